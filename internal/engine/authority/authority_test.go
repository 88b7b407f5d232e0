package authority

import (
	"context"
	"testing"
	"time"

	"phaseline/internal/domain"
)

func TestPrincipalRoles(t *testing.T) {
	p := Principal{ActorID: "carol", Roles: []string{domain.RoleITDirector}}
	if !p.IsITRole() {
		t.Fatalf("it_director should be an IT role")
	}
	if !p.HasRole(domain.RoleITAdmin, domain.RoleITDirector) {
		t.Fatalf("HasRole should match any of the given roles")
	}
	q := Principal{ActorID: "alice", Roles: []string{domain.RoleBusinessValidator}}
	if q.IsITRole() {
		t.Fatalf("business_validator is not an IT role")
	}
}

func TestSolutionsManagerIsDefaultManager(t *testing.T) {
	ctx := context.Background()
	r := Resolver{}

	// Base role path returns before the delegation store is consulted,
	// so a zero resolver is enough here.
	unassigned := domain.Project{ID: "p1"}
	sam := Principal{ActorID: "sam", Roles: []string{domain.RoleSolutionsManager}}
	ok, err := r.CanManageProject(ctx, sam, unassigned)
	if err != nil {
		t.Fatalf("CanManageProject: %v", err)
	}
	if !ok {
		t.Fatalf("solutions manager should hold manager authority on an unassigned project")
	}

	managerID := "pat"
	assigned := domain.Project{ID: "p2", ManagerID: &managerID}
	ok, err = r.CanManageProject(ctx, sam, assigned)
	if err != nil {
		t.Fatalf("CanManageProject: %v", err)
	}
	if !ok {
		t.Fatalf("solutions manager authority does not depend on the assigned manager")
	}

	ok, err = r.CanManageProject(ctx, Principal{ActorID: "pat"}, assigned)
	if err != nil {
		t.Fatalf("CanManageProject: %v", err)
	}
	if !ok {
		t.Fatalf("assigned manager should hold manager authority")
	}
}

func TestWindowContains(t *testing.T) {
	start := "2025-01-01T00:00:00Z"
	end := "2025-01-31T00:00:00Z"

	at := func(s string) time.Time {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			t.Fatalf("parse %s: %v", s, err)
		}
		return ts
	}

	if windowContains(start, &end, at("2024-12-31T23:59:59Z")) {
		t.Fatalf("before start should be outside the window")
	}
	if !windowContains(start, &end, at("2025-01-01T00:00:00Z")) {
		t.Fatalf("start instant should be inside the window")
	}
	if !windowContains(start, &end, at("2025-01-31T00:00:00Z")) {
		t.Fatalf("end instant should be inside the window, bounds are inclusive")
	}
	if windowContains(start, &end, at("2025-01-31T00:00:01Z")) {
		t.Fatalf("one second past the end should be outside the window")
	}

	// nil or empty end means open-ended
	if !windowContains(start, nil, at("2030-06-01T00:00:00Z")) {
		t.Fatalf("nil end should never expire")
	}
	empty := ""
	if !windowContains(start, &empty, at("2030-06-01T00:00:00Z")) {
		t.Fatalf("empty end should never expire")
	}

	if windowContains("not-a-date", &end, at("2025-01-15T00:00:00Z")) {
		t.Fatalf("unparseable start should deny")
	}
}
