package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/invoices"+query, nil), httptest.NewRecorder())
	return FromContext(c)
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=50&offset=10", 50, 10},
		{"?limit=500", MaxLimit, 0},
		{"?limit=-3&offset=-7", DefaultLimit, 0},
		{"?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		p := paramsFor(t, tt.query)
		if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
			t.Errorf("%q: got limit=%d offset=%d, want %d/%d", tt.query, p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"INV-1", "INV-2"}, 5, 2, 2)
	if r.Total != 5 || r.Limit != 2 || r.Offset != 2 {
		t.Errorf("unexpected response: %+v", r)
	}
	if !r.HasMore {
		t.Error("expected HasMore when offset+limit < total")
	}
	if NewResponse(nil, 4, 2, 2).HasMore {
		t.Error("expected no more results on the last page")
	}
}
