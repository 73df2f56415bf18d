package pagination_test

import (
	"testing"

	"github.com/netvora/billing/pkg/db/pagination"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := pagination.EncodeCursor(pagination.Cursor{ID: "2010735548360036353"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	cursor, err := pagination.DecodeCursor(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cursor.ID != "2010735548360036353" {
		t.Errorf("cursor id = %q, want original id", cursor.ID)
	}
}

func TestDecodeCursor_Garbage(t *testing.T) {
	if _, err := pagination.DecodeCursor("not-base64!!"); err == nil {
		t.Fatal("expected error for invalid token")
	}
}

func TestBuildCursorPageInfo(t *testing.T) {
	extract := func(s string) string { return s }

	info := pagination.BuildCursorPageInfo([]string{"a", "b", "c"}, 2, extract)
	if !info.HasMore {
		t.Error("expected has_more with one row past the limit")
	}
	if info.NextPageToken != "b" {
		t.Errorf("next token = %q, want last row inside the page", info.NextPageToken)
	}

	info = pagination.BuildCursorPageInfo([]string{"a", "b"}, 2, extract)
	if info.HasMore {
		t.Error("exactly limit rows means no further page")
	}

	info = pagination.BuildCursorPageInfo(nil, 2, extract)
	if info.HasMore || info.NextPageToken != "" {
		t.Errorf("empty result: %+v, want empty page info", info)
	}
}
