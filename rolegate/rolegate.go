// Package rolegate maps roles to the UI capabilities they enable.
//
// The table is the single place where role branching lives; views consume
// it as data instead of comparing role strings themselves.
package rolegate

import (
	"sort"

	quickfood "github.com/quickfood/quickfood-go"
)

// Capability names one thing a view may offer.
type Capability string

const (
	BrowseRestaurants Capability = "browse_restaurants"
	ViewMenu          Capability = "view_menu"
	PlaceOrder        Capability = "place_order"
	ViewOrders        Capability = "view_orders"
	Deposit           Capability = "deposit"
	ManageRestaurants Capability = "manage_restaurants"
	EditMenu          Capability = "edit_menu"
	UpdateOrderStatus Capability = "update_order_status"
)

// Set is an immutable set of capabilities.
type Set map[Capability]struct{}

var table = map[quickfood.Role]Set{
	quickfood.RoleUser: newSet(
		BrowseRestaurants,
		ViewMenu,
		PlaceOrder,
		ViewOrders,
		Deposit,
	),
	quickfood.RoleRestaurantOwner: newSet(
		BrowseRestaurants,
		ViewMenu,
		ManageRestaurants,
		EditMenu,
		ViewOrders,
		UpdateOrderStatus,
	),
}

func newSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// CapabilitiesFor returns the capabilities of role. Unknown roles get none.
func CapabilitiesFor(role quickfood.Role) Set {
	src := table[role]
	out := make(Set, len(src))
	for c := range src {
		out[c] = struct{}{}
	}
	return out
}

// Allows reports whether role has capability c.
func Allows(role quickfood.Role, c Capability) bool {
	_, ok := table[role][c]
	return ok
}

// Has reports whether the set contains c.
func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// List returns the capabilities sorted by name.
func (s Set) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
