package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/netvora/billing/internal/catalog/domain"
	"github.com/netvora/billing/internal/catalog/registry"
	"gorm.io/gorm"
)

type fakeService struct {
	id snowflake.ID
}

func TestRegistry_Resolve(t *testing.T) {
	reg := registry.New()
	reg.Register("plan", func(ctx context.Context, db *gorm.DB, id snowflake.ID) (any, error) {
		if id == 42 {
			return &fakeService{id: id}, nil
		}
		return nil, nil
	})

	svc, err := reg.Resolve(context.Background(), nil, catalogdomain.ServiceRef{Type: "plan", ID: 42})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if fake, ok := svc.(*fakeService); !ok || fake.id != 42 {
		t.Errorf("resolved %#v, want fakeService{42}", svc)
	}
}

func TestRegistry_PassesHandleThrough(t *testing.T) {
	reg := registry.New()
	handle := &gorm.DB{}
	reg.Register("plan", func(ctx context.Context, db *gorm.DB, id snowflake.ID) (any, error) {
		if db != handle {
			t.Error("resolver must receive the caller's db handle")
		}
		return &fakeService{id: id}, nil
	})

	if _, err := reg.Resolve(context.Background(), handle, catalogdomain.ServiceRef{Type: "plan", ID: 1}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	reg := registry.New()

	_, err := reg.Resolve(context.Background(), nil, catalogdomain.ServiceRef{Type: "rocket", ID: 1})
	if !errors.Is(err, catalogdomain.ErrUnknownServiceType) {
		t.Fatalf("err = %v, want ErrUnknownServiceType", err)
	}
}

func TestRegistry_MissingInstance(t *testing.T) {
	reg := registry.New()
	reg.Register("plan", func(ctx context.Context, db *gorm.DB, id snowflake.ID) (any, error) {
		return nil, nil
	})

	_, err := reg.Resolve(context.Background(), nil, catalogdomain.ServiceRef{Type: "plan", ID: 7})
	if !errors.Is(err, catalogdomain.ErrServiceNotFound) {
		t.Fatalf("err = %v, want ErrServiceNotFound", err)
	}
}

func TestRegistry_ResolverError(t *testing.T) {
	reg := registry.New()
	boom := errors.New("boom")
	reg.Register("plan", func(ctx context.Context, db *gorm.DB, id snowflake.ID) (any, error) {
		return nil, boom
	})

	_, err := reg.Resolve(context.Background(), nil, catalogdomain.ServiceRef{Type: "plan", ID: 7})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want resolver error passed through", err)
	}
}
