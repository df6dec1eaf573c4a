package infra

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestComponentTagsChildLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf).With().Str("service", "api").Logger()
	Component(base, "relocation").Info().Msg("hello")
	out := buf.String()
	if !strings.Contains(out, `"component":"relocation"`) || !strings.Contains(out, `"service":"api"`) {
		t.Fatalf("unexpected log line %q", out)
	}
}

func TestHTTPServerStartAfterShutdown(t *testing.T) {
	srv := NewHTTPServer(&Config{Port: "0"}, nil, zerolog.Nop())
	if srv.Addr() != ":0" {
		t.Fatalf("unexpected addr %q", srv.Addr())
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("start after shutdown should be silent, got %v", err)
	}
}

func TestHTTPServerBaseContext(t *testing.T) {
	srv := NewHTTPServer(&Config{Port: "0"}, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.SetBaseContext(ctx)
	if srv.server.BaseContext == nil || srv.server.BaseContext(nil) != ctx {
		t.Fatalf("base context not installed")
	}
}
