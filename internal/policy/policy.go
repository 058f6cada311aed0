// Package policy declares which checks guard each route and builds the
// gin guard chains from that declaration.
//
// Every route's guards come from one Table declared at startup. A route
// the table does not list resolves to Strict, so forgetting a declaration
// fails closed. Handlers never carry their own credential checks.
package policy

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/vyrodovalexey/wikiclip/internal/auth/actiontoken"
	"github.com/vyrodovalexey/wikiclip/internal/config"
)

// Tree identifies one of the two router trees.
type Tree string

// Router trees.
const (
	TreeMain    Tree = config.TreeMain
	TreeUnkeyed Tree = config.TreeUnkeyed
)

// Policy is the set of checks a route requires.
type Policy struct {
	// Preset names the constructor the policy came from.
	Preset string `json:"preset"`

	RequiresAPIKey  bool `json:"requires_api_key"`
	RequiresSession bool `json:"requires_session"`
	AllowsQueryJWT  bool `json:"allows_query_jwt"`

	// Action is the only action a query JWT may carry on this route.
	Action actiontoken.Action `json:"action,omitempty"`
}

// Strict requires the API key and a session. It is the main tree default
// and the fallback for every unlisted route.
func Strict() Policy {
	return Policy{Preset: config.PresetStrict, RequiresAPIKey: true, RequiresSession: true}
}

// APIKeyOnly requires the API key but no session, e.g. login.
func APIKeyOnly() Policy {
	return Policy{Preset: config.PresetAPIKeyOnly, RequiresAPIKey: true}
}

// Public is an explicit exemption from every check.
func Public() Policy {
	return Policy{Preset: config.PresetPublic}
}

// Unkeyed requires an Action JWT for action in the query string and
// nothing else.
func Unkeyed(action actiontoken.Action) Policy {
	return Policy{Preset: config.PresetUnkeyed, AllowsQueryJWT: true, Action: action}
}

// FromPreset builds a policy from its configuration name.
func FromPreset(name, action string) (Policy, error) {
	switch name {
	case config.PresetStrict:
		return Strict(), nil
	case config.PresetAPIKeyOnly:
		return APIKeyOnly(), nil
	case config.PresetPublic:
		return Public(), nil
	case config.PresetUnkeyed:
		if action == "" {
			return Policy{}, errors.New("unkeyed preset requires an action")
		}
		return Unkeyed(actiontoken.Action(action)), nil
	default:
		return Policy{}, fmt.Errorf("unknown policy preset %q", name)
	}
}

// String renders the policy as a compact flag list for logs.
func (p Policy) String() string {
	var flags []string
	if p.RequiresAPIKey {
		flags = append(flags, "api_key")
	}
	if p.RequiresSession {
		flags = append(flags, "session")
	}
	if p.AllowsQueryJWT {
		flags = append(flags, "query_jwt:"+string(p.Action))
	}
	if len(flags) == 0 {
		flags = append(flags, "none")
	}
	return p.Preset + "(" + strings.Join(flags, ",") + ")"
}

// Route identifies a route on a tree. A Path ending in "/*" with Method
// "*" is a group entry covering every route under the prefix.
type Route struct {
	Tree   Tree   `json:"tree"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

func (r Route) String() string {
	return string(r.Tree) + " " + r.Method + " " + r.Path
}

// Row is one line of the auditable policy table.
type Row struct {
	Route
	Policy Policy `json:"policy"`
}

const anyMethod = "*"

// Table maps routes to policies. Declare everything before serving; the
// table is read without locking afterwards.
type Table struct {
	routes map[Route]Policy
	groups map[Route]Policy
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		routes: make(map[Route]Policy),
		groups: make(map[Route]Policy),
	}
}

// Declare sets the policy of a single route. Declaring a route twice is
// an error.
func (t *Table) Declare(tree Tree, method, path string, p Policy) error {
	r := Route{Tree: tree, Method: strings.ToUpper(method), Path: path}
	if _, dup := t.routes[r]; dup {
		return fmt.Errorf("policy for %s declared twice", r)
	}
	t.routes[r] = p
	return nil
}

// DeclareGroup sets the policy of every route under prefix that has no
// route-level declaration.
func (t *Table) DeclareGroup(tree Tree, prefix string, p Policy) error {
	r := Route{Tree: tree, Method: anyMethod, Path: strings.TrimSuffix(prefix, "/") + "/*"}
	if _, dup := t.groups[r]; dup {
		return fmt.Errorf("policy for group %s declared twice", r)
	}
	t.groups[r] = p
	return nil
}

// Override replaces or adds the policy of a single route.
func (t *Table) Override(tree Tree, method, path string, p Policy) {
	t.routes[Route{Tree: tree, Method: strings.ToUpper(method), Path: path}] = p
}

// ApplyOverrides applies configured overrides.
func (t *Table) ApplyOverrides(overrides []config.PolicyOverride) error {
	for i, o := range overrides {
		p, err := FromPreset(o.Preset, o.Action)
		if err != nil {
			return fmt.Errorf("policy.overrides[%d]: %w", i, err)
		}
		t.Override(Tree(o.Tree), o.Method, o.Path, p)
	}
	return nil
}

// Resolve returns the policy for a route: the route entry, else the
// longest matching group entry, else Strict. declared is false only for
// the Strict fallback.
func (t *Table) Resolve(tree Tree, method, path string) (p Policy, declared bool) {
	if p, ok := t.routes[Route{Tree: tree, Method: strings.ToUpper(method), Path: path}]; ok {
		return p, true
	}

	best := -1
	for r, gp := range t.groups {
		if r.Tree != tree {
			continue
		}
		prefix := strings.TrimSuffix(r.Path, "*")
		if (strings.HasPrefix(path, prefix) || path+"/" == prefix) && len(prefix) > best {
			best, p = len(prefix), gp
		}
	}
	if best >= 0 {
		return p, true
	}
	return Strict(), false
}

// Rows returns every declaration sorted by tree, path and method.
func (t *Table) Rows() []Row {
	rows := make([]Row, 0, len(t.routes)+len(t.groups))
	for r, p := range t.groups {
		rows = append(rows, Row{Route: r, Policy: p})
	}
	for r, p := range t.routes {
		rows = append(rows, Row{Route: r, Policy: p})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Tree != b.Tree {
			return a.Tree < b.Tree
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Method < b.Method
	})
	return rows
}

// Validate rejects declarations that could leave a route guarded in a way
// its tree does not permit.
func (t *Table) Validate() error {
	var errs []error
	for _, row := range t.Rows() {
		if err := validateRow(row); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", row.Route, err))
		}
	}
	return errors.Join(errs...)
}

func validateRow(row Row) error {
	p := row.Policy

	switch row.Tree {
	case TreeMain, TreeUnkeyed:
	default:
		return fmt.Errorf("unknown tree %q", row.Tree)
	}
	if row.Method != anyMethod && !knownMethod(row.Method) {
		return fmt.Errorf("unknown method %q", row.Method)
	}
	if !strings.HasPrefix(row.Path, "/") {
		return errors.New("path must start with /")
	}

	if p.AllowsQueryJWT && p.Action == "" {
		return errors.New("query JWT allowed without an action")
	}
	if !p.AllowsQueryJWT && p.Action != "" {
		return errors.New("action set but query JWT not allowed")
	}

	switch row.Tree {
	case TreeMain:
		if p.AllowsQueryJWT {
			return errors.New("main tree routes cannot accept a query JWT")
		}
	case TreeUnkeyed:
		if p.RequiresAPIKey {
			return errors.New("unkeyed tree routes cannot require the API key")
		}
		if !p.AllowsQueryJWT && p.Preset != config.PresetPublic && !p.RequiresSession {
			return errors.New("unkeyed tree route must accept a query JWT or be declared public")
		}
	}
	return nil
}

func knownMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}
