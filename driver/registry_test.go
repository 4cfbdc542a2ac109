package driver

import (
	"errors"
	"log/slog"
	"testing"
)

// stubDevice satisfies Device for registry tests. Only Name and Close are
// implemented; other methods panic through the nil embedded interface.
type stubDevice struct {
	Device
	name string
}

func (d stubDevice) Name() string { return d.name }
func (d stubDevice) Close() error { return nil }

func withRegistry(t *testing.T, reg map[string]Factory) {
	t.Helper()
	registryMu.Lock()
	saved := factories
	factories = reg
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		factories = saved
		registryMu.Unlock()
	})
}

func TestRegistryRegisterAndUnregister(t *testing.T) {
	withRegistry(t, map[string]Factory{})

	Register("test", func() (Device, error) { return stubDevice{name: "t"}, nil })
	if !IsRegistered("test") {
		t.Fatal("test driver should be registered")
	}
	if got := Available(); len(got) != 1 || got[0] != "test" {
		t.Errorf("Available() = %v, want [test]", got)
	}

	Unregister("test")
	if IsRegistered("test") {
		t.Error("test driver should be unregistered")
	}
}

func TestOpenByName(t *testing.T) {
	withRegistry(t, map[string]Factory{
		NameSoft: func() (Device, error) { return stubDevice{name: "cpu"}, nil },
	})

	dev, err := Open(NameSoft)
	if err != nil {
		t.Fatalf("Open(soft) error = %v", err)
	}
	if dev.Name() != "cpu" {
		t.Errorf("Name() = %q, want %q", dev.Name(), "cpu")
	}

	_, err = Open("metal")
	if !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Open(metal) error = %v, want ErrUnknownDriver", err)
	}
}

func TestOpenPriority(t *testing.T) {
	errNoAdapter := errors.New("no adapter")

	tests := []struct {
		name    string
		reg     map[string]Factory
		want    string
		wantErr error
	}{
		{
			name: "wgpu preferred",
			reg: map[string]Factory{
				NameSoft: func() (Device, error) { return stubDevice{name: "soft"}, nil },
				NameWGPU: func() (Device, error) { return stubDevice{name: "wgpu"}, nil },
			},
			want: "wgpu",
		},
		{
			name: "no fallback to soft",
			reg: map[string]Factory{
				NameSoft: func() (Device, error) { return stubDevice{name: "soft"}, nil },
				NameWGPU: func() (Device, error) { return nil, errNoAdapter },
			},
			wantErr: errNoAdapter,
		},
		{
			name: "soft alone",
			reg: map[string]Factory{
				NameSoft: func() (Device, error) { return stubDevice{name: "soft"}, nil },
			},
			wantErr: ErrNoDevice,
		},
		{
			name: "non-priority driver last",
			reg: map[string]Factory{
				"zzz":    func() (Device, error) { return stubDevice{name: "zzz"}, nil },
				NameSoft: func() (Device, error) { return nil, errNoAdapter },
			},
			want: "zzz",
		},
		{
			name: "all fail",
			reg: map[string]Factory{
				NameWGPU: func() (Device, error) { return nil, errNoAdapter },
			},
			wantErr: errNoAdapter,
		},
		{
			name:    "empty registry",
			reg:     map[string]Factory{},
			wantErr: ErrNoDevice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withRegistry(t, tt.reg)

			dev, err := Open("")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, ErrNoDevice) {
					t.Fatalf("Open() error = %v, want %v wrapped in ErrNoDevice", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if dev.Name() != tt.want {
				t.Errorf("Open() picked %q, want %q", dev.Name(), tt.want)
			}
		})
	}
}

func TestSetLoggerPropagates(t *testing.T) {
	var got *slog.Logger
	OnLogger(func(l *slog.Logger) { got = l })
	if got == nil {
		t.Fatal("OnLogger should deliver the current logger immediately")
	}

	l := slog.Default()
	SetLogger(l)
	defer SetLogger(nil)
	if got != l {
		t.Error("SetLogger did not reach registered hook")
	}
	if Logger() != l {
		t.Error("Logger() did not return the logger set")
	}

	SetLogger(nil)
	if got == l || got == nil {
		t.Error("SetLogger(nil) should deliver a nop logger")
	}
}

func TestSizeCount(t *testing.T) {
	if got := Size1D(17).Count(); got != 17 {
		t.Errorf("Size1D(17).Count() = %d, want 17", got)
	}
	if got := (Size{Width: 4, Height: 3, Depth: 2}).Count(); got != 24 {
		t.Errorf("Count() = %d, want 24", got)
	}
}
