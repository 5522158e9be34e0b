package openapi

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobmcallan/mcp-openapi/internal/common"
)

// --- Helpers ---

const billingSpec = `openapi: 3.0.3
info:
  title: Billing
  version: "1.0"
servers:
  - url: https://api.example.com
security:
  - bearer: []
paths:
  /v1/customers:
    get:
      operationId: listCustomers
      summary: List customers
      parameters:
        - $ref: '#/components/parameters/Limit'
        - name: code
          in: query
          schema:
            type: integer
      responses:
        200:
          description: ok
          content:
            application/json:
              schema:
                type: array
                items:
                  $ref: '#/components/schemas/Customer'
    post:
      operationId: createCustomer
      requestBody:
        required: true
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/NewCustomer'
      responses:
        "201":
          $ref: '#/components/responses/Created'
  /v1/customers/{customer}:
    parameters:
      - name: customer
        in: path
        required: true
        schema:
          type: string
    get:
      operationId: getCustomer
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/Customer'
  /v1/invoices:
    get:
      operationId: listInvoices
      security:
        - apiKey: []
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/Invoice'
components:
  parameters:
    Limit:
      name: limit
      in: query
      schema:
        type: integer
        default: 10
  responses:
    Created:
      description: created
      content:
        application/json:
          schema:
            $ref: '#/components/schemas/Customer'
  schemas:
    Customer:
      type: object
      properties:
        id:
          type: string
        name:
          type: string
        address:
          $ref: '#/components/schemas/Address'
        referrer:
          $ref: '#/components/schemas/Customer'
    NewCustomer:
      type: object
      required: [name]
      properties:
        name:
          type: string
        email:
          type: string
    Address:
      type: object
      properties:
        line1:
          type: string
    Invoice:
      type: object
      properties:
        id:
          type: string
    Unused:
      type: object
  securitySchemes:
    bearer:
      type: http
      scheme: bearer
    apiKey:
      type: apiKey
      in: header
      name: X-Key
`

// writeSpecs writes files into a temp dir and returns the dir.
func writeSpecs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testStore() *Store {
	return NewStore(NewFetcher(5*time.Second), time.Minute, 64, common.NewSilentLogger())
}

// loadDoc fetches and parses a document through a fresh store.
func loadDoc(t *testing.T, store *Store, path string) *Document {
	t.Helper()
	id, err := NormalizeLocation(path)
	if err != nil {
		t.Fatal(err)
	}
	l, err := store.Refresh(context.Background(), id)
	if err != nil {
		t.Fatalf("load %s: %v", path, err)
	}
	return l.Doc
}

func mustSelector(t *testing.T, exprs ...string) *Selector {
	t.Helper()
	sel, err := NewSelector(exprs)
	if err != nil {
		t.Fatal(err)
	}
	return sel
}

// countingFetcher counts fetches and can hold them until released.
type countingFetcher struct {
	inner   Fetcher
	calls   atomic.Int32
	release chan struct{}
	once    sync.Once
}

func (c *countingFetcher) Fetch(ctx context.Context, location string) (*Source, error) {
	c.calls.Add(1)
	if c.release != nil {
		<-c.release
	}
	return c.inner.Fetch(ctx, location)
}

func (c *countingFetcher) Release() {
	c.once.Do(func() { close(c.release) })
}
