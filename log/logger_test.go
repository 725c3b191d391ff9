// Copyright 2026 The chatmesh Authors
// This file is part of the chatmesh library.
//
// The chatmesh library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The chatmesh library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the chatmesh library. If not, see <http://www.gnu.org/licenses/>.

package log

import (
	"strings"
	"testing"
	"time"
)

func collect(records *[]*Record) Handler {
	return FuncHandler(func(r *Record) error {
		*records = append(*records, r)
		return nil
	})
}

func TestChildContext(t *testing.T) {
	var records []*Record
	l := New("site", "s4")
	l.SetHandler(collect(&records))

	child := l.New("mod", "exchange")
	child.Info("peer connected", "peer", "s5")

	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	r := records[0]
	if r.Lvl != LvlInfo || r.Msg != "peer connected" {
		t.Errorf("unexpected record %v %q", r.Lvl, r.Msg)
	}
	want := []interface{}{"site", "s4", "mod", "exchange", "peer", "s5"}
	if len(r.Ctx) != len(want) {
		t.Fatalf("ctx %v, want %v", r.Ctx, want)
	}
	for i := range want {
		if r.Ctx[i] != want[i] {
			t.Errorf("ctx[%d] = %v, want %v", i, r.Ctx[i], want[i])
		}
	}
}

func TestLvlFilter(t *testing.T) {
	var records []*Record
	l := New()
	l.SetHandler(LvlFilterHandler(LvlWarn, collect(&records)))

	l.Debug("dropped")
	l.Info("dropped too")
	l.Warn("kept")
	l.Error("kept too")

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Msg != "kept" || records[1].Msg != "kept too" {
		t.Errorf("wrong records kept: %q %q", records[0].Msg, records[1].Msg)
	}
}

func TestTerminalFormat(t *testing.T) {
	r := &Record{
		Time: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		Lvl:  LvlInfo,
		Msg:  "peer connected",
		Ctx:  []interface{}{"peer", "s5", "attempts", 3},
	}
	out := string(TerminalFormat(false).Format(r))
	for _, want := range []string{"INFO", "peer connected", "peer=s5", "attempts=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestLogfmtQuoting(t *testing.T) {
	r := &Record{
		Time: time.Now(),
		Lvl:  LvlWarn,
		Msg:  "odd",
		Ctx:  []interface{}{"frame", "two words"},
	}
	out := string(LogfmtFormat().Format(r))
	if !strings.Contains(out, `frame="two words"`) {
		t.Errorf("output %q missing quoted value", out)
	}
}

func TestNormalizeOddContext(t *testing.T) {
	var records []*Record
	l := New()
	l.SetHandler(collect(&records))
	l.Info("odd", "only-a-key")
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if len(records[0].Ctx)%2 != 0 {
		t.Errorf("context not normalized: %v", records[0].Ctx)
	}
}
