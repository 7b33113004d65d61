package apiflow_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/petrijr/apiflow"
)

func demoAPI() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method + " " + r.URL.Path {
		case "POST /users":
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 7, "name": "ada"})
		case "GET /users/7":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 7, "name": "ada"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

// Example demonstrates building a workflow in code and running it against
// an HTTP API.
func Example() {
	srv := demoAPI()
	defer srv.Close()

	wf := apiflow.New("users").
		Step(
			apiflow.NewStep("create", "POST /users").
				Body(map[string]any{"name": "ada"}).
				ExpectStatus(201).
				Extract("user_id", "$.id"),
			apiflow.NewStep("fetch", "GET /users/{id}").
				PathParam("id", "${user_id}").
				DependsOn("create").
				ExpectBody(map[string]any{"name": "type:string"}),
		).
		MustBuild()

	eng := apiflow.NewInMemoryEngine(apiflow.EngineConfig{
		Transport: apiflow.NewHTTPTransport(5 * time.Second),
		BaseURL:   srv.URL,
	})

	res, err := eng.Run(context.Background(), wf, nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Status)
	for _, s := range res.Steps {
		fmt.Println(s.Name, s.Status)
	}

	// Output:
	// success
	// create success
	// fetch success
}

// ExampleParseWorkflows loads a definition document and prints its plan.
func ExampleParseWorkflows() {
	doc := []byte(`
workflows:
  - name: orders
    steps:
      - name: login
        endpoint: POST /login
      - name: list
        endpoint: GET /orders
        depends_on: [login]
      - name: profile
        endpoint: GET /me
        depends_on: [login]
`)
	wfs, err := apiflow.ParseWorkflows(doc)
	if err != nil {
		log.Fatal(err)
	}
	eng := apiflow.NewInMemoryEngine(apiflow.EngineConfig{})
	plan, err := apiflow.Plan(eng, wfs[0])
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(plan.Levels)

	// Output: [[login] [list profile]]
}
