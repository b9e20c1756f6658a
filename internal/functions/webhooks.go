package functions

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"regexp"

	"github.com/google/uuid"
	"github.com/selfdb/gateway/internal/apierror"
	"github.com/selfdb/gateway/internal/dbpool"
)

// Webhook is a webhook registry row, per spec.md §3.
type Webhook struct {
	ID                 string `json:"id"`
	FunctionID         string `json:"function_id"`
	OwnerID            string `json:"owner_id"`
	Name               string `json:"name"`
	WebhookToken       string `json:"webhook_token,omitempty"`
	IsActive           bool   `json:"is_active"`
	RetryAttempts      int    `json:"retry_attempts"`
	RetryDelaySeconds  int    `json:"retry_delay_seconds"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
	CreatedAt          string `json:"created_at"`
}

// Webhooks is the webhook registry plus delivery dispatch.
type Webhooks struct {
	pool    *dbpool.Pool
	runtime *Runtime
}

func NewWebhooks(pool *dbpool.Pool, runtime *Runtime) *Webhooks {
	return &Webhooks{pool: pool, runtime: runtime}
}

// CreateWebhookInput is the POST /webhooks body.
type CreateWebhookInput struct {
	FunctionID         string `json:"function_id" validate:"required,uuid4"`
	Name               string `json:"name" validate:"required"`
	RetryAttempts      int    `json:"retry_attempts" validate:"omitempty,min=1,max=10"`
	RetryDelaySeconds  int    `json:"retry_delay_seconds" validate:"omitempty,min=0"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" validate:"omitempty,min=0"`
}

// Create mints a fresh token/secret pair; the raw webhook_token is
// returned to the caller exactly once, same discipline as a refresh
// token, per spec.md §3.
func (w *Webhooks) Create(ctx context.Context, ownerID string, in CreateWebhookInput) (*Webhook, string, error) {
	token, err := randomURLSafe(32)
	if err != nil {
		return nil, "", err
	}
	secret, err := randomURLSafe(32)
	if err != nil {
		return nil, "", err
	}
	if in.RetryAttempts == 0 {
		in.RetryAttempts = 3
	}

	id := uuid.New().String()
	_, err = w.pool.DB.ExecContext(ctx, `
		INSERT INTO webhooks (id, function_id, owner_id, name, webhook_token, secret_key, is_active,
			retry_attempts, retry_delay_seconds, rate_limit_per_minute, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7, $8, $9, now())`,
		id, in.FunctionID, ownerID, in.Name, token, secret, in.RetryAttempts, in.RetryDelaySeconds, in.RateLimitPerMinute)
	if pqErr := apierror.FromPQ(err); pqErr != nil {
		return nil, "", pqErr
	}
	if err != nil {
		return nil, "", err
	}
	hook, err := w.Get(ctx, id)
	return hook, token, err
}

const webhookSelectSQL = `
	SELECT id, function_id, owner_id, name, is_active, retry_attempts, retry_delay_seconds, rate_limit_per_minute, created_at
	FROM webhooks`

func (w *Webhooks) scanOne(row *sql.Row) (*Webhook, error) {
	h := &Webhook{}
	if err := row.Scan(&h.ID, &h.FunctionID, &h.OwnerID, &h.Name, &h.IsActive,
		&h.RetryAttempts, &h.RetryDelaySeconds, &h.RateLimitPerMinute, &h.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NotFoundErr("webhook")
		}
		return nil, err
	}
	return h, nil
}

func (w *Webhooks) Get(ctx context.Context, id string) (*Webhook, error) {
	return w.scanOne(w.pool.DB.QueryRowContext(ctx, webhookSelectSQL+` WHERE id = $1`, id))
}

// OwnerID implements gateway.OwnershipFunc.
func (w *Webhooks) OwnerID(ctx context.Context, id string) (string, error) {
	h, err := w.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return h.OwnerID, nil
}

func (w *Webhooks) List(ctx context.Context, skip, limit int) ([]*Webhook, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := w.pool.DB.QueryContext(ctx, webhookSelectSQL+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Webhook
	for rows.Next() {
		h := &Webhook{}
		if err := rows.Scan(&h.ID, &h.FunctionID, &h.OwnerID, &h.Name, &h.IsActive,
			&h.RetryAttempts, &h.RetryDelaySeconds, &h.RateLimitPerMinute, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (w *Webhooks) Delete(ctx context.Context, id string) error {
	res, err := w.pool.DB.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierror.NotFoundErr("webhook")
	}
	return nil
}

// webhookTokenPattern matches spec.md §4.6's shape check on the
// path parameter before any database lookup: ASCII, URL-safe, ≤255.
var webhookTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// activeWebhookByToken looks up an active webhook by its raw token. An
// unknown or inactive token is reported as NotFound, deliberately
// collapsing "doesn't exist" and "disabled" per spec.md §4.6.
func (w *Webhooks) activeWebhookByToken(ctx context.Context, token string) (*Webhook, string, error) {
	if !webhookTokenPattern.MatchString(token) {
		return nil, "", apierror.NotFoundErr("webhook")
	}
	row := w.pool.DB.QueryRowContext(ctx, `
		SELECT id, function_id, owner_id, name, is_active, retry_attempts, retry_delay_seconds, rate_limit_per_minute, created_at, secret_key
		FROM webhooks WHERE webhook_token = $1 AND is_active = true`, token)
	h := &Webhook{}
	var secret string
	if err := row.Scan(&h.ID, &h.FunctionID, &h.OwnerID, &h.Name, &h.IsActive,
		&h.RetryAttempts, &h.RetryDelaySeconds, &h.RateLimitPerMinute, &h.CreatedAt, &secret); err != nil {
		if err == sql.ErrNoRows {
			return nil, "", apierror.NotFoundErr("webhook")
		}
		return nil, "", err
	}
	return h, secret, nil
}

// VerifySignature checks X-Webhook-Signature against secret via HMAC-
// SHA256. Per DESIGN NOTES §9 open question (1), enforcement is
// optional: an empty signature header is treated as "not configured",
// not a failure — callers decide separately whether to require it.
func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Delivery is a webhook_deliveries row.
type Delivery struct {
	ID               string `json:"id"`
	WebhookID        string `json:"webhook_id"`
	FunctionID       string `json:"function_id"`
	SignatureValid   bool   `json:"signature_valid"`
	Status           string `json:"status"`
	DeliveryAttempt  int    `json:"delivery_attempt"`
	RetryCount       int    `json:"retry_count"`
	ResponseStatus   *int   `json:"response_status_code,omitempty"`
	RequestBody      string `json:"-"`
	CreatedAt        string `json:"created_at"`
}

// Trigger is the public webhook-trigger endpoint's core logic: create
// a `received` delivery row, invoke the linked function at the
// runtime, and update the delivery with the outcome. Any runtime
// failure lands the delivery in `failed` with the error message
// rather than propagating — the HTTP layer always returns 202, per
// spec.md §4.6.
func (w *Webhooks) Trigger(ctx context.Context, token string, body []byte, signature string) (deliveryID string, fn *Function, err error) {
	hook, secret, err := w.activeWebhookByToken(ctx, token)
	if err != nil {
		return "", nil, err
	}
	signatureValid := VerifySignature(body, signature, secret)

	payload := body
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}

	id := uuid.New().String()
	_, err = w.pool.DB.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, function_id, request_body, signature_valid, status, delivery_attempt, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, 'received', 1, 0, now())`,
		id, hook.ID, hook.FunctionID, payload, signatureValid)
	if err != nil {
		return "", nil, err
	}

	function, ferr := w.getFunctionByID(ctx, hook.FunctionID)
	if ferr != nil {
		w.markFailed(ctx, id, "linked function not found")
		return id, nil, nil
	}

	if !signatureValid {
		w.markFailed(ctx, id, "invalid webhook signature")
		return id, function, nil
	}

	w.markExecuting(ctx, id)
	status, respBody, invokeErr := w.runtime.Invoke(ctx, function.Name, json.RawMessage(payload), id)
	if invokeErr != nil {
		w.markFailed(ctx, id, invokeErr.Error())
		return id, function, nil
	}
	w.markCompleted(ctx, id, status, respBody)
	return id, function, nil
}

// Retry re-invokes the runtime for a previously-failed delivery with
// its stored payload, per spec.md §4.6.
func (w *Webhooks) Retry(ctx context.Context, deliveryID string) error {
	var webhookID, functionID string
	var payload []byte
	err := w.pool.DB.QueryRowContext(ctx, `
		SELECT webhook_id, function_id, request_body FROM webhook_deliveries WHERE id = $1`, deliveryID).
		Scan(&webhookID, &functionID, &payload)
	if err == sql.ErrNoRows {
		return apierror.NotFoundErr("delivery")
	}
	if err != nil {
		return err
	}

	function, err := w.getFunctionByID(ctx, functionID)
	if err != nil {
		return err
	}

	_, err = w.pool.DB.ExecContext(ctx, `
		UPDATE webhook_deliveries SET status = 'executing', delivery_attempt = delivery_attempt + 1, retry_count = retry_count + 1
		WHERE id = $1`, deliveryID)
	if err != nil {
		return err
	}

	status, respBody, invokeErr := w.runtime.Invoke(ctx, function.Name, json.RawMessage(payload), deliveryID)
	if invokeErr != nil {
		w.markFailed(ctx, deliveryID, invokeErr.Error())
		return nil
	}
	w.markCompleted(ctx, deliveryID, status, respBody)
	return nil
}

func (w *Webhooks) getFunctionByID(ctx context.Context, id string) (*Function, error) {
	row := w.pool.DB.QueryRowContext(ctx, functionSelectSQL+` WHERE id = $1`, id)
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

func (w *Webhooks) markExecuting(ctx context.Context, id string) {
	_, _ = w.pool.DB.ExecContext(ctx, `UPDATE webhook_deliveries SET status = 'executing' WHERE id = $1`, id)
}

func (w *Webhooks) markCompleted(ctx context.Context, id string, statusCode int, respBody []byte) {
	_, _ = w.pool.DB.ExecContext(ctx, `
		UPDATE webhook_deliveries SET status = 'completed', response_status_code = $2, response_body = $3 WHERE id = $1`,
		id, statusCode, respBody)
}

func (w *Webhooks) markFailed(ctx context.Context, id string, errMsg string) {
	_, _ = w.pool.DB.ExecContext(ctx, `
		UPDATE webhook_deliveries SET status = 'failed', error_message = $2 WHERE id = $1`, id, errMsg)
}

func randomURLSafe(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
