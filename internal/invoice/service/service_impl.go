package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/netvora/billing/internal/invoice/domain"
	"github.com/netvora/billing/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo invoicedomain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo invoicedomain.Repository
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("invoice.service"),
		repo: p.Repo,
	}
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	query := `SELECT id, ulid, user_id, total_amount, status, due_date, created_at, updated_at
		 FROM invoices
		 WHERE id > ?`
	var afterID snowflake.ID
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, err
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, err
		}
		afterID = id
	}
	args := []any{afterID}

	if status := strings.TrimSpace(req.Status); status != "" {
		parsed, err := invoicedomain.ParseInvoiceStatus(status)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidStatus
		}
		query += ` AND status = ?`
		args = append(args, parsed)
	}
	if user := strings.TrimSpace(req.UserID); user != "" {
		userID, err := snowflake.ParseString(user)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidUser
		}
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	if req.DueFrom != nil {
		query += ` AND due_date >= ?`
		args = append(args, *req.DueFrom)
	}
	if req.DueTo != nil {
		query += ` AND due_date <= ?`
		args = append(args, *req.DueTo)
	}
	if req.CreatedFrom != nil {
		query += ` AND created_at >= ?`
		args = append(args, *req.CreatedFrom)
	}
	if req.CreatedTo != nil {
		query += ` AND created_at <= ?`
		args = append(args, *req.CreatedTo)
	}

	query += `
		 ORDER BY id
		 LIMIT ?`
	args = append(args, pageSize+1)

	var invoices []invoicedomain.Invoice
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&invoices).Error; err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(invoices, pageSize, func(item invoicedomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(invoices) > pageSize {
		invoices = invoices[:pageSize]
	}

	return invoicedomain.ListInvoiceResponse{
		PageInfo: *pageInfo,
		Invoices: invoices,
	}, nil
}

func (s *Service) GetByUlid(ctx context.Context, ulid string) (invoicedomain.Invoice, error) {
	invoice, err := s.repo.FindByUlid(ctx, s.db, strings.TrimSpace(ulid))
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if invoice == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}

	items, err := s.repo.ListItems(ctx, s.db, invoice.ID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	invoice.Items = items
	return *invoice, nil
}
