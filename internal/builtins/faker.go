package builtins

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/petrijr/apiflow/pkg/api"
)

var (
	firstNames = []string{
		"Ada", "Alan", "Barbara", "Brian", "Claude", "Donald", "Edsger", "Frances",
		"Grace", "John", "Ken", "Linus", "Margaret", "Niklaus", "Radia", "Sophie",
	}
	lastNames = []string{
		"Allen", "Backus", "Dijkstra", "Hamilton", "Hopper", "Kernighan", "Knuth", "Lamport",
		"Liskov", "Lovelace", "McCarthy", "Perlman", "Ritchie", "Thompson", "Turing", "Wirth",
	}
	cities    = []string{"Amsterdam", "Berlin", "Helsinki", "Lisbon", "Madrid", "Oslo", "Tallinn", "Vienna"}
	countries = []string{"Austria", "Estonia", "Finland", "Germany", "Netherlands", "Norway", "Portugal", "Spain"}
	streets   = []string{"Elm Street", "High Street", "Market Road", "Mill Lane", "Park Avenue", "Station Road"}
	companies = []string{"Acme", "Globex", "Initech", "Hooli", "Umbrella", "Vandelay"}
	suffixes  = []string{"Inc", "Ltd", "Group", "Labs"}
	jobs      = []string{"Engineer", "Designer", "Analyst", "Manager", "Operator", "Consultant"}
	domains   = []string{"example.com", "example.org", "example.net"}
	words     = []string{
		"alpha", "bravo", "cargo", "delta", "echo", "field", "graph", "harbor",
		"index", "jolly", "kernel", "lunar", "metric", "nimble", "orbit", "pixel",
	}
)

// faker generates plausible sample data of the requested kind, e.g.
// ${faker:email}. Values are drawn from the injected RNG.
func (f *funcs) faker(call api.BuiltinCall) (any, error) {
	kind, ok := arg(call, "type", 0)
	if !ok {
		return nil, fmt.Errorf("faker expects a type")
	}
	g := fakeGen{f}
	switch cast.ToString(kind) {
	case "first_name":
		return g.pick(firstNames), nil
	case "last_name":
		return g.pick(lastNames), nil
	case "name":
		return g.pick(firstNames) + " " + g.pick(lastNames), nil
	case "user_name", "username":
		return g.userName(), nil
	case "email":
		return g.userName() + "@" + g.pick(domains), nil
	case "phone", "phone_number":
		return fmt.Sprintf("+1-555-%03d-%04d", g.intn(1000), g.intn(10000)), nil
	case "street_address":
		return strconv.Itoa(1+g.intn(999)) + " " + g.pick(streets), nil
	case "address":
		return strconv.Itoa(1+g.intn(999)) + " " + g.pick(streets) + ", " + g.pick(cities), nil
	case "city":
		return g.pick(cities), nil
	case "state", "country":
		return g.pick(countries), nil
	case "postcode", "zipcode":
		return fmt.Sprintf("%05d", g.intn(100000)), nil
	case "company":
		return g.pick(companies) + " " + g.pick(suffixes), nil
	case "job":
		return g.pick(jobs), nil
	case "word":
		return g.pick(words), nil
	case "sentence":
		return g.sentence(6), nil
	case "text", "paragraph":
		return g.sentence(6) + " " + g.sentence(8) + " " + g.sentence(5), nil
	case "url":
		return "https://www." + g.pick(domains) + "/" + g.pick(words), nil
	case "uuid":
		return f.uuid(call)
	case "password":
		return g.password(12), nil
	case "date":
		return g.date().Format(time.DateOnly), nil
	case "datetime":
		return g.date().Add(time.Duration(g.intn(86400)) * time.Second).Format("2006-01-02T15:04:05"), nil
	}
	return nil, fmt.Errorf("faker: unknown type %q", kind)
}

type fakeGen struct{ f *funcs }

func (g fakeGen) intn(n int) int { return int(g.f.RNG.Int63n(int64(n))) }

func (g fakeGen) pick(list []string) string { return list[g.intn(len(list))] }

func (g fakeGen) userName() string {
	return strings.ToLower(g.pick(firstNames)) + "." + strings.ToLower(g.pick(lastNames)) + strconv.Itoa(g.intn(100))
}

func (g fakeGen) sentence(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = g.pick(words)
	}
	s := strings.Join(parts, " ")
	return strings.ToUpper(s[:1]) + s[1:] + "."
}

const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789!#%+"

func (g fakeGen) password(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = passwordAlphabet[g.intn(len(passwordAlphabet))]
	}
	return string(b)
}

// date is a day within the last ten years of the injected clock.
func (g fakeGen) date() time.Time {
	today := g.f.Clock.Now().UTC().Truncate(24 * time.Hour)
	return today.AddDate(0, 0, -g.intn(3650))
}
