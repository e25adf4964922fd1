package model

import "testing"

func TestCapabilitySet_Has(t *testing.T) {
	tests := []struct {
		name string
		set  CapabilitySet
		cap  string
		want bool
	}{
		{"exact", CapabilitySet{CapBookingsView: true}, CapBookingsView, true},
		{"exact miss", CapabilitySet{CapBookingsView: true}, CapBookingsStatus, false},
		{"star", CapabilitySet{"*": true}, CapUsersManage, true},
		{"namespace wildcard", CapabilitySet{"bookings:*": true}, CapBookingsStatus, true},
		{"namespace wildcard miss", CapabilitySet{"bookings:*": true}, CapUsersView, false},
		{"nested wildcard", CapabilitySet{"bookings:status:*": true}, "bookings:status:approve", true},
		{"prefix without wildcard", CapabilitySet{"bookings:status": true}, CapBookingsStatus, false},
		{"empty set", CapabilitySet{}, CapCategoriesView, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.set.Has(tt.cap); got != tt.want {
				t.Errorf("Has(%q) = %v, want %v", tt.cap, got, tt.want)
			}
		})
	}
}

func TestCapabilitySet_HasAll(t *testing.T) {
	cs := CapabilitySet{"categories:*": true, CapServicesView: true}
	if !cs.HasAll(CapCategoriesView, CapCategoriesManage, CapServicesView) {
		t.Error("HasAll() = false, want true")
	}
	if cs.HasAll(CapCategoriesView, CapServicesManage) {
		t.Error("HasAll() with missing capability = true, want false")
	}
	if !cs.HasAll() {
		t.Error("HasAll() with no arguments should be true")
	}
}

func TestCapabilitySet_HasAny(t *testing.T) {
	cs := CapabilitySet{CapStaffBookings: true}
	if !cs.HasAny(CapBookingsView, CapStaffBookings) {
		t.Error("HasAny() = false, want true")
	}
	if cs.HasAny(CapBookingsView, CapUsersView) {
		t.Error("HasAny() = true, want false")
	}
}

func TestCapabilitySet_Grant(t *testing.T) {
	cs := CapabilitySet{}
	cs.Grant(" bookings:* ", "", CapUsersView)

	if !cs.HasAll(CapBookingsStatus, CapUsersView) {
		t.Errorf("Grant() set = %v, want bookings wildcard and users view", cs)
	}
	if len(cs) != 2 {
		t.Errorf("Grant() stored %d entries, want 2", len(cs))
	}
}
