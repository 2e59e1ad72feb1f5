package radio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jpalmerr/dhtlink/internal/clock"
	"github.com/jpalmerr/dhtlink/internal/credentials"
)

func TestSim_LeaseAfterDelay(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	r := NewSim(c, SimConfig{LeaseDelay: 3 * time.Second})

	if err := r.Connect(context.Background(), credentials.Credentials{SSID: "HomeNet"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if _, ok := r.Lease(); ok {
		t.Fatal("Lease() granted immediately")
	}

	c.Advance(3 * time.Second)
	lease, ok := r.Lease()
	if !ok {
		t.Fatal("Lease() not granted after delay")
	}
	if lease.Addr.String() != "192.168.1.50" || lease.Gateway.String() != "192.168.1.1" {
		t.Errorf("Lease() = %+v", lease)
	}
}

func TestSim_ConnectRejected(t *testing.T) {
	r := NewSim(clock.NewFake(time.Unix(0, 0)), SimConfig{
		Networks: map[string]string{"HomeNet": "secret123"},
	})

	tests := []struct {
		name    string
		creds   credentials.Credentials
		wantErr error
	}{
		{"unknown network", credentials.Credentials{SSID: "Elsewhere"}, ErrNetworkNotFound},
		{"wrong passphrase", credentials.Credentials{SSID: "HomeNet", Passphrase: "nope"}, ErrAuthRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Connect(context.Background(), tt.creds); !errors.Is(err, tt.wantErr) {
				t.Errorf("Connect() error = %v, want %v", err, tt.wantErr)
			}
			if r.Mode() == ModeStation {
				t.Error("radio entered station mode after rejected Connect")
			}
		})
	}
}

func TestSim_ConnectWhileAPActive(t *testing.T) {
	r := NewSim(clock.NewFake(time.Unix(0, 0)), SimConfig{})
	_ = r.StartAP(context.Background(), APConfig{SSID: "setup"})

	err := r.Connect(context.Background(), credentials.Credentials{SSID: "HomeNet"})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("Connect() with AP up error = %v, want ErrBusy", err)
	}

	_ = r.StopAP()
	if err := r.Connect(context.Background(), credentials.Credentials{SSID: "HomeNet"}); err != nil {
		t.Fatalf("Connect() after StopAP error = %v", err)
	}

	want := []Mode{ModeAP, ModeOff, ModeStation}
	got := r.Modes()
	if len(got) != len(want) {
		t.Fatalf("Modes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Modes()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSim_DropLink(t *testing.T) {
	r := NewSim(clock.NewFake(time.Unix(0, 0)), SimConfig{})
	_ = r.Connect(context.Background(), credentials.Credentials{SSID: "HomeNet"})

	if _, ok := r.Lease(); !ok {
		t.Fatal("Lease() not granted with zero delay")
	}

	r.DropLink()
	if _, ok := r.Lease(); ok {
		t.Error("Lease() still granted after DropLink")
	}

	// reconnecting restores the link
	_ = r.Disconnect()
	_ = r.Connect(context.Background(), credentials.Credentials{SSID: "HomeNet"})
	if _, ok := r.Lease(); !ok {
		t.Error("Lease() not granted after reconnect")
	}
}

func TestSim_NeverLeases(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	r := NewSim(c, SimConfig{LeaseDelay: -1})
	_ = r.Connect(context.Background(), credentials.Credentials{SSID: "HomeNet"})

	c.Advance(time.Hour)
	if _, ok := r.Lease(); ok {
		t.Error("Lease() granted with negative delay")
	}
}
