package domain

import (
	"strings"
	"testing"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		input   string
		want    Strategy
		wantErr bool
	}{
		{"single_shot", StrategySingleShot, false},
		{"plan_solve", StrategyPlanSolve, false},
		{"react", StrategyReAct, false},
		{"tree_search", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStrategy(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseStrategy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseStrategy(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTaskInstance_RepoDirName(t *testing.T) {
	inst := TaskInstance{Repo: "astropy/astropy"}
	if got := inst.RepoDirName(); got != "astropy__astropy" {
		t.Errorf("RepoDirName() = %q, want astropy__astropy", got)
	}
	if got := inst.GitURL(); got != "https://github.com/astropy/astropy.git" {
		t.Errorf("GitURL() = %q", got)
	}
}

func TestTaskInstance_Title(t *testing.T) {
	tests := []struct {
		problem string
		want    string
	}{
		{"", "Unknown Issue"},
		{"Off by one in range()\nDetails follow", "Off by one in range()"},
		{strings.Repeat("x", 150), strings.Repeat("x", 100)},
	}
	for _, tt := range tests {
		inst := TaskInstance{ProblemStatement: tt.problem}
		if got := inst.Title(); got != tt.want {
			t.Errorf("Title() = %q, want %q", got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("hello", 3); got != "hel" {
		t.Errorf("Truncate = %q, want hel", got)
	}
	// "é" is two bytes; cutting in the middle backs off to the rune start
	if got := Truncate("aé", 2); got != "a" {
		t.Errorf("Truncate multibyte = %q, want a", got)
	}
}

func TestIndexByID(t *testing.T) {
	m := IndexByID([]TaskInstance{{InstanceID: "x1", Repo: "a/b"}, {InstanceID: "x2", Repo: "c/d"}})
	if len(m) != 2 || m["x2"].Repo != "c/d" {
		t.Errorf("IndexByID = %+v", m)
	}
}
