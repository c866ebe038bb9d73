package sherr

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"no context", New(NotFound, "lab not found"), "lab not found"},
		{"with context", New(NotFound, "lab not found", "1a2b3c4d"), "lab not found: 1a2b3c4d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	wrapped := Wrap(PullFailed, "pull failed", errors.New("connection refused"))
	if wrapped.Code != PullFailed {
		t.Errorf("Code = %d, want %d", wrapped.Code, PullFailed)
	}
	if wrapped.Context != "connection refused" {
		t.Errorf("Context = %q, want the wrapped error's message", wrapped.Context)
	}

	nilWrapped := Wrap(PullFailed, "pull failed", nil)
	if nilWrapped.Context != "" {
		t.Errorf("Wrap(nil) Context = %q, want empty", nilWrapped.Context)
	}
}

func TestWireShape(t *testing.T) {
	data, err := json.Marshal(New(AuthForbidden, "not your lab", "owner is alice"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"code":1003,"message":"not your lab","context":"owner is alice"}`
	if string(data) != want {
		t.Errorf("wire JSON = %s, want %s", data, want)
	}

	// context is omitted entirely when empty, not serialized as "".
	data, _ = json.Marshal(New(AuthRequired, "authentication required"))
	want = `{"code":1000,"message":"authentication required"}`
	if string(data) != want {
		t.Errorf("wire JSON = %s, want %s", data, want)
	}
}

// Codes are wire-stable: renumbering one breaks every deployed client.
func TestCodeStability(t *testing.T) {
	stable := map[Code]int{
		AuthRequired:          1000,
		AuthForbidden:         1003,
		ManifestInvalid:       1100,
		DuplicateNode:         1101,
		InterfaceOutOfBound:   1102,
		MgmtMisuse:            1103,
		UniqueConflict:        1200,
		NotFound:              1201,
		ImmutableField:        1202,
		ImageNotFound:         1300,
		AddressPoolExhausted:  1301,
		LibvirtUnreachable:    1400,
		DomainDefineFailed:    1401,
		VolumeUploadFailed:    1402,
		DockerUnreachable:     1500,
		PullFailed:            1501,
		InterfaceCreateFailed: 1600,
		UpPartial:             1700,
		DestroyPartial:        1701,
	}
	for code, want := range stable {
		if int(code) != want {
			t.Errorf("code %d drifted from its shipped value %d", code, want)
		}
	}
}
