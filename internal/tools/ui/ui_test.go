package ui

import (
	"errors"
	"strings"
	"testing"
)

func TestModelFinishesOnResult(t *testing.T) {
	m := model{title: "reconcile"}
	next, cmd := m.Update(resultMsg{details: []string{"confirmed=2"}, err: nil})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	got := next.(model)
	if !got.done || len(got.details) != 1 {
		t.Fatalf("unexpected model %+v", got)
	}
	view := got.View()
	if !strings.Contains(view, "OK") || !strings.Contains(view, "confirmed=2") {
		t.Fatalf("unexpected view %q", view)
	}
}

func TestModelRendersFailure(t *testing.T) {
	m := model{title: "obscheck run"}
	next, _ := m.Update(resultMsg{err: errors.New("no exemplar")})
	if view := next.(model).View(); !strings.Contains(view, "FAIL") || !strings.Contains(view, "no exemplar") {
		t.Fatalf("unexpected view %q", view)
	}
}

func TestModelIgnoresTicksAfterDone(t *testing.T) {
	m := model{title: "x", done: true}
	if _, cmd := m.Update(tickMsg{}); cmd != nil {
		t.Fatal("expected no further ticks once done")
	}
}
