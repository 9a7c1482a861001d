package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/austindbirch/harbor_remind/internal/config"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.Config
		wantDriver string
		wantErr    string
	}{
		{name: "memory", cfg: config.Config{StoreDriver: "memory"}, wantDriver: DriverMemory},
		{name: "unknown driver", cfg: config.Config{StoreDriver: "sqlite"}, wantErr: `unknown store driver "sqlite"`},
		{
			name:    "postgres unreachable",
			cfg:     config.Config{StoreDriver: "postgres", DB: config.DB{User: "u", Pass: "p", Host: "127.0.0.1", Port: "1", Name: "x"}},
			wantErr: "postgres connect",
		},
		{
			name:    "mongo bad uri",
			cfg:     config.Config{StoreDriver: "mongo", Mongo: config.Mongo{URI: "not-a-uri"}},
			wantErr: "mongo connect",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			b, err := Open(ctx, tt.cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Open() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer b.Close()

			if b.Driver != tt.wantDriver {
				t.Errorf("Driver = %q, want %q", b.Driver, tt.wantDriver)
			}
			if err := b.Pinger.Ping(ctx); err != nil {
				t.Errorf("Ping() error = %v", err)
			}
		})
	}
}

func TestBackend_CloseWithoutCloser(t *testing.T) {
	(&Backend{}).Close()
}
