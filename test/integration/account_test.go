// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ServiAutos Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/serviautos/serviautos/internal/auth"
	"github.com/serviautos/serviautos/internal/auth/postgres"
	"github.com/serviautos/serviautos/internal/notify"
	"github.com/serviautos/serviautos/internal/store"
	"github.com/serviautos/serviautos/internal/token"
	"github.com/serviautos/serviautos/internal/web"
)

const adminEmail = "admin@serviautos.dev"

// testEnv holds the resources shared by the account specs.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	outbox    *notify.Outbox
	server    *httptest.Server
}

func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	env := &testEnv{ctx: ctx, cancel: cancel, outbox: notify.NewOutbox()}

	container, err := tcpostgres.Run(ctx,
		"postgres:18-alpine",
		tcpostgres.WithDatabase("serviautos_test"),
		tcpostgres.WithUsername("serviautos"),
		tcpostgres.WithPassword("serviautos"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.cleanup()
		return nil, err
	}
	_ = migrator.Close()

	env.pool, err = store.Open(ctx, connStr, store.DefaultConnectOptions)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	codes := auth.NewCodeRegistry(time.Minute)
	hasher := auth.NewArgon2idHasher(auth.WithArgon2Params(64, 1, 1))
	wf, err := auth.NewWorkflow(auth.WorkflowConfig{AdminEmail: adminEmail},
		postgres.NewCredentialRepository(env.pool), codes, hasher, env.outbox)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	issuer, err := token.NewIssuer(strings.Repeat("s", token.MinSecretLength), time.Hour, token.DefaultIssuer)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	handler, err := web.NewHandler(wf, issuer)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	env.server = httptest.NewServer(handler.Routes())
	return env, nil
}

func (e *testEnv) cleanup() {
	if e.server != nil {
		e.server.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(context.Background())
	}
	e.cancel()
}

func (e *testEnv) post(path, body string) (int, web.Envelope) {
	resp, err := http.Post(e.server.URL+path, "application/json", strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()
	var env web.Envelope
	Expect(json.NewDecoder(resp.Body).Decode(&env)).To(Succeed())
	return resp.StatusCode, env
}

var codePattern = regexp.MustCompile(`code(?: is|:) (\d{6})`)

func (e *testEnv) lastCode() (string, notify.Message) {
	msg, ok := e.outbox.Last()
	Expect(ok).To(BeTrue())
	m := codePattern.FindStringSubmatch(msg.Body)
	Expect(m).To(HaveLen(2))
	return m[1], msg
}

func signupBody(email string) string {
	return `{"name":"Ana","lastName":"Ruiz","phone":"555-0100","address":"Calle 1",` +
		`"email":"` + email + `","password":"s3cret"}`
}

var _ = Describe("Account lifecycle", Ordered, func() {
	var env *testEnv

	BeforeAll(func() {
		var err error
		env, err = setupTestEnv()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if env != nil {
			env.cleanup()
		}
	})

	Describe("admin-gated signup", func() {
		It("sends the code to the administrator and persists only after verification", func() {
			status, _ := env.post("/api/auth/signup/request", signupBody("ana@example.com"))
			Expect(status).To(Equal(http.StatusAccepted))

			code, msg := env.lastCode()
			Expect(msg.To).To(Equal(adminEmail))
			Expect(msg.Body).To(ContainSubstring("ana@example.com"))

			var count int
			Expect(env.pool.QueryRow(env.ctx, `SELECT count(*) FROM credentials`).Scan(&count)).To(Succeed())
			Expect(count).To(Equal(0))

			status, _ = env.post("/api/auth/signup/verify", `{"email":"ana@example.com","code":"`+code+`"}`)
			Expect(status).To(Equal(http.StatusCreated))

			Expect(env.pool.QueryRow(env.ctx, `SELECT count(*) FROM credentials`).Scan(&count)).To(Succeed())
			Expect(count).To(Equal(1))
		})

		It("rejects a second signup for a registered email", func() {
			status, env2 := env.post("/api/auth/signup/request", signupBody("ANA@example.com"))
			Expect(status).To(Equal(http.StatusConflict))
			Expect(env2.Error).To(BeTrue())
		})

		It("lets exactly one of several concurrent verifications succeed", func() {
			status, _ := env.post("/api/auth/signup/request", signupBody("race@example.com"))
			Expect(status).To(Equal(http.StatusAccepted))
			code, _ := env.lastCode()

			const callers = 6
			var wg sync.WaitGroup
			results := make(chan int, callers)
			for range callers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					status, _ := env.post("/api/auth/signup/verify",
						`{"email":"race@example.com","code":"`+code+`"}`)
					results <- status
				}()
			}
			wg.Wait()
			close(results)

			created := 0
			for status := range results {
				if status == http.StatusCreated {
					created++
					continue
				}
				Expect(status).To(BeElementOf(http.StatusConflict, http.StatusBadRequest))
			}
			Expect(created).To(Equal(1))
		})
	})

	Describe("login", func() {
		It("issues a token for valid credentials", func() {
			status, resp := env.post("/api/auth/login", `{"email":"ana@example.com","password":"s3cret"}`)
			Expect(status).To(Equal(http.StatusOK))
			Expect(resp.Data).To(HaveKey("token"))
		})

		It("gives the same answer for a wrong password and an unknown email", func() {
			wrongStatus, wrong := env.post("/api/auth/login", `{"email":"ana@example.com","password":"nope"}`)
			unknownStatus, unknown := env.post("/api/auth/login", `{"email":"ghost@example.com","password":"nope"}`)
			Expect(wrongStatus).To(Equal(http.StatusUnauthorized))
			Expect(unknownStatus).To(Equal(wrongStatus))
			Expect(unknown.Message).To(Equal(wrong.Message))
		})
	})

	Describe("password reset", func() {
		It("replaces the stored hash", func() {
			status, _ := env.post("/api/auth/forgot-password", `{"email":"ana@example.com"}`)
			Expect(status).To(Equal(http.StatusAccepted))
			code, msg := env.lastCode()
			Expect(msg.To).To(Equal("ana@example.com"))

			status, _ = env.post("/api/auth/reset-password",
				`{"email":"ana@example.com","code":"`+code+`","newPassword":"n3w-secret"}`)
			Expect(status).To(Equal(http.StatusOK))

			status, _ = env.post("/api/auth/login", `{"email":"ana@example.com","password":"s3cret"}`)
			Expect(status).To(Equal(http.StatusUnauthorized))
			status, _ = env.post("/api/auth/login", `{"email":"ana@example.com","password":"n3w-secret"}`)
			Expect(status).To(Equal(http.StatusOK))
		})

		It("does not issue a code for an unknown account", func() {
			before := len(env.outbox.Messages())
			status, _ := env.post("/api/auth/forgot-password", `{"email":"ghost@example.com"}`)
			Expect(status).To(Equal(http.StatusNotFound))
			Expect(env.outbox.Messages()).To(HaveLen(before))
		})
	})
})
