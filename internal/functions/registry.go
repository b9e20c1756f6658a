// Package functions implements the function registry, execution-result
// ingestion, and webhook dispatch (C8): deploy metadata is owned here,
// execution happens in an external runtime reached over HTTP. Per
// spec.md §4.6.
package functions

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/selfdb/gateway/internal/apierror"
	"github.com/selfdb/gateway/internal/dbpool"
)

// Function is a function registry row.
type Function struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Code             string  `json:"code,omitempty"`
	Env              json.RawMessage `json:"env,omitempty"`
	DeploymentStatus string  `json:"deployment_status"`
	OwnerID          string  `json:"owner_id"`
	Count            int64   `json:"count"`
	SuccessCount     int64   `json:"success_count"`
	ErrorCount       int64   `json:"error_count"`
	AvgMS            float64 `json:"avg_ms"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

// Runtime is the external function-execution service contract.
type Runtime struct {
	baseURL string
	http    *http.Client
}

func NewRuntime(baseURL string) *Runtime {
	return &Runtime{baseURL: baseURL, http: &http.Client{}}
}

type deployRequest struct {
	FunctionName string          `json:"functionName"`
	Code         string          `json:"code"`
	Env          json.RawMessage `json:"env,omitempty"`
}

type deployResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (r *Runtime) Deploy(ctx context.Context, name, code string, env json.RawMessage) error {
	body, _ := json.Marshal(deployRequest{FunctionName: name, Code: code, Env: env})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/runtime/deploy", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out deployResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode >= 300 || !out.Success {
		return fmt.Errorf("deploy failed: %s", out.Message)
	}
	return nil
}

func (r *Runtime) Undeploy(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, r.baseURL+"/runtime/functions/"+name, nil)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("undeploy failed: %s", resp.Status)
	}
	return nil
}

// Invoke calls the runtime's invoke endpoint for a webhook-triggered
// function call, returning the raw JSON response body.
func (r *Runtime) Invoke(ctx context.Context, name string, payload json.RawMessage, deliveryID string) (int, json.RawMessage, error) {
	body, _ := json.Marshal(map[string]any{"payload": payload, "delivery_id": deliveryID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/runtime/invoke/"+name, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody := new(bytes.Buffer)
	if _, err := respBody.ReadFrom(resp.Body); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody.Bytes(), nil
}

// Registry is the function metadata store.
type Registry struct {
	pool    *dbpool.Pool
	runtime *Runtime
}

func NewRegistry(pool *dbpool.Pool, runtime *Runtime) *Registry {
	return &Registry{pool: pool, runtime: runtime}
}

// CreateInput is the POST /functions body.
type CreateInput struct {
	Name string          `json:"name" validate:"required"`
	Code string          `json:"code" validate:"required"`
	Env  json.RawMessage `json:"env,omitempty"`
}

// Deploy registers the function and dispatches it to the runtime,
// marking `deployed` on success or `failed` on any runtime error.
func (r *Registry) Deploy(ctx context.Context, ownerID string, in CreateInput) (*Function, error) {
	id := uuid.New().String()
	_, err := r.pool.DB.ExecContext(ctx, `
		INSERT INTO functions (id, name, code, env, deployment_status, owner_id, count, success_count, error_count, avg_ms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, 0, 0, 0, 0, now(), now())
		ON CONFLICT (name) DO UPDATE SET code = EXCLUDED.code, env = EXCLUDED.env, deployment_status = 'pending', updated_at = now()`,
		id, in.Name, in.Code, nullableJSON(in.Env), ownerID)
	if err != nil {
		if pqErr := apierror.FromPQ(err); pqErr != nil {
			return nil, pqErr
		}
		return nil, err
	}

	status := "deployed"
	if err := r.runtime.Deploy(ctx, in.Name, in.Code, in.Env); err != nil {
		status = "failed"
	}
	_, _ = r.pool.DB.ExecContext(ctx, `UPDATE functions SET deployment_status = $2, updated_at = now() WHERE name = $1`, in.Name, status)

	return r.GetByName(ctx, in.Name)
}

func nullableJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

const functionSelectSQL = `
	SELECT id, name, code, coalesce(env,'{}'::jsonb), deployment_status, owner_id,
	       count, success_count, error_count, avg_ms, created_at, updated_at
	FROM functions`

func (r *Registry) scanOne(row *sql.Row) (*Function, error) {
	fn := &Function{}
	if err := row.Scan(&fn.ID, &fn.Name, &fn.Code, &fn.Env, &fn.DeploymentStatus, &fn.OwnerID,
		&fn.Count, &fn.SuccessCount, &fn.ErrorCount, &fn.AvgMS, &fn.CreatedAt, &fn.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NotFoundErr("function")
		}
		return nil, err
	}
	return fn, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*Function, error) {
	return r.scanOne(r.pool.DB.QueryRowContext(ctx, functionSelectSQL+` WHERE id = $1`, id))
}

func (r *Registry) GetByName(ctx context.Context, name string) (*Function, error) {
	return r.scanOne(r.pool.DB.QueryRowContext(ctx, functionSelectSQL+` WHERE name = $1`, name))
}

// OwnerID implements gateway.OwnershipFunc.
func (r *Registry) OwnerID(ctx context.Context, id string) (string, error) {
	fn, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return fn.OwnerID, nil
}

func (r *Registry) List(ctx context.Context, skip, limit int) ([]*Function, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.pool.DB.QueryContext(ctx, functionSelectSQL+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Function
	for rows.Next() {
		fn := &Function{}
		if err := rows.Scan(&fn.ID, &fn.Name, &fn.Code, &fn.Env, &fn.DeploymentStatus, &fn.OwnerID,
			&fn.Count, &fn.SuccessCount, &fn.ErrorCount, &fn.AvgMS, &fn.CreatedAt, &fn.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, fn)
	}
	return out, rows.Err()
}

// Undeploy removes the function from the runtime and the registry.
func (r *Registry) Undeploy(ctx context.Context, name string) error {
	_ = r.runtime.Undeploy(ctx, name)
	res, err := r.pool.DB.ExecContext(ctx, `DELETE FROM functions WHERE name = $1`, name)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierror.NotFoundErr("function")
	}
	return nil
}
