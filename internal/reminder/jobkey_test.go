package reminder

import "testing"

func TestJobKeyStrings(t *testing.T) {
	t.Parallel()
	if got := MainKey(42).String(); got != "reminder_42" {
		t.Fatalf("MainKey = %q", got)
	}
	if got := AfterKey(42).String(); got != "reminder_42_after" {
		t.Fatalf("AfterKey = %q", got)
	}
}

func TestKeysForCoversAllVariants(t *testing.T) {
	t.Parallel()
	keys := KeysFor(7)
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k.String()] = true
	}
	for _, want := range []string{"reminder_7", "reminder_7_after"} {
		if !seen[want] {
			t.Fatalf("KeysFor missing %q", want)
		}
	}
	if len(keys) != 2 {
		t.Fatalf("KeysFor returned %d keys, want 2", len(keys))
	}
}

func TestParseJobKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want JobKey
		ok   bool
	}{
		{name: "main", in: "reminder_15", want: MainKey(15), ok: true},
		{name: "after", in: "reminder_15_after", want: AfterKey(15), ok: true},
		{name: "other namespace", in: "gc:reminders", ok: false},
		{name: "unknown suffix", in: "reminder_15_snoozed", ok: false},
		{name: "no id", in: "reminder_", ok: false},
		{name: "non-numeric id", in: "reminder_abc", ok: false},
		{name: "zero id", in: "reminder_0", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseJobKey(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseJobKey(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("ParseJobKey(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseJobKeyRoundTrip(t *testing.T) {
	t.Parallel()
	for _, k := range KeysFor(123) {
		got, ok := ParseJobKey(k.String())
		if !ok || got != k {
			t.Fatalf("round trip failed for %q: got %+v ok=%v", k.String(), got, ok)
		}
	}
}
