// Command smoke runs an end-to-end check against a running hrgate-api: login, an audited
// department lifecycle and logout revocation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"hrgate.org/internal/audit"
	"hrgate.org/internal/auth"
	"hrgate.org/internal/client"
)

func main() {
	base := os.Getenv("HRGATE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	email := os.Getenv("HRGATE_SMOKE_EMAIL")
	password := os.Getenv("HRGATE_SMOKE_PASSWORD")
	if email == "" || password == "" {
		log.Fatal("set HRGATE_SMOKE_EMAIL and HRGATE_SMOKE_PASSWORD to an admin login")
	}

	c, err := client.New(base)
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	defer c.Close()

	ctx, cancel := client.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := c.Login(ctx, email, password)
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	if sess.Principal.Role != auth.RoleAdmin {
		log.Fatalf("smoke login must be an admin, got %s", sess.Principal.Role)
	}

	company := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	dept, err := c.CreateDepartment(ctx, company, "Smoke Test")
	if err != nil {
		log.Fatalf("create department: %v", err)
	}
	if _, err := c.RenameDepartment(ctx, dept.ID, "Smoke Test (renamed)"); err != nil {
		log.Fatalf("rename department: %v", err)
	}
	if err := c.DeleteDepartment(ctx, dept.ID); err != nil {
		log.Fatalf("delete department: %v", err)
	}

	records, err := c.ListAudit(ctx, audit.Filter{EntityType: "department", EntityID: dept.ID})
	if err != nil {
		log.Fatalf("list audit: %v", err)
	}
	if len(records) != 3 {
		log.Fatalf("expected 3 audit records for %s, got %d", dept.ID, len(records))
	}
	for _, rec := range records {
		if rec.ActorID != sess.Principal.ID {
			log.Fatalf("audit record %s has actor %q, want %q", rec.ID, rec.ActorID, sess.Principal.ID)
		}
	}

	token := c.Token()
	if err := c.Logout(ctx); err != nil {
		log.Fatalf("logout: %v", err)
	}
	probe, err := client.New(base)
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	if err := probe.Probe(ctx, token); !errors.Is(err, auth.ErrUnauthenticated) {
		log.Fatalf("revoked token still accepted: %v", err)
	}

	fmt.Printf("hrgate smoke test passed: department=%s audit_records=%d\n", dept.ID, len(records))
}
