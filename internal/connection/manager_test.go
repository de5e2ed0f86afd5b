package connection

import "testing"

func TestAdmitEnforcesGlobalLimit(t *testing.T) {
	m := NewManager(2, 0)

	t1, err := m.Admit("1.1.1.1")
	if err != nil {
		t.Fatalf("Admit() #1: unexpected error: %s", err)
	}

	t2, err := m.Admit("2.2.2.2")
	if err != nil {
		t.Fatalf("Admit() #2: unexpected error: %s", err)
	}

	if _, err := m.Admit("3.3.3.3"); err != ErrAdmissionDenied {
		t.Fatalf("Admit() #3: got %v, want ErrAdmissionDenied", err)
	}

	t1.Release()

	if _, err := m.Admit("3.3.3.3"); err != nil {
		t.Fatalf("Admit() after release: unexpected error: %s", err)
	}

	t2.Release()
}

func TestAdmitEnforcesPerIPLimit(t *testing.T) {
	m := NewManager(0, 2)

	first, err := m.Admit("1.2.3.4")
	if err != nil {
		t.Fatalf("Admit() #1: unexpected error: %s", err)
	}

	second, err := m.Admit("1.2.3.4")
	if err != nil {
		t.Fatalf("Admit() #2: unexpected error: %s", err)
	}

	if _, err := m.Admit("1.2.3.4"); err != ErrAdmissionDenied {
		t.Fatalf("Admit() #3: got %v, want ErrAdmissionDenied", err)
	}

	// A different IP is unaffected by 1.2.3.4's limit.
	other, err := m.Admit("5.6.7.8")
	if err != nil {
		t.Fatalf("Admit() for other IP: unexpected error: %s", err)
	}

	first.Release()

	if _, err := m.Admit("1.2.3.4"); err != nil {
		t.Fatalf("Admit() after release: unexpected error: %s", err)
	}

	second.Release()
	other.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := NewManager(1, 1)

	tok, err := m.Admit("9.9.9.9")
	if err != nil {
		t.Fatalf("Admit(): unexpected error: %s", err)
	}

	tok.Release()
	tok.Release()
	tok.Release()

	if got := m.Total(); got != 0 {
		t.Fatalf("Total() after repeated release = %d, want 0", got)
	}

	if got := m.PerIP("9.9.9.9"); got != 0 {
		t.Fatalf("PerIP() after repeated release = %d, want 0", got)
	}
}

func TestPerIPMapShrinksToZero(t *testing.T) {
	m := NewManager(0, 0)

	tok, _ := m.Admit("10.0.0.1")
	tok.Release()

	m.mu.Lock()
	_, present := m.perIP["10.0.0.1"]
	m.mu.Unlock()

	if present {
		t.Fatal("perIP map retained a zero-count entry")
	}
}
