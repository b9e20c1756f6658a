package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/selfdb/gateway/internal/apierror"
	"github.com/selfdb/gateway/internal/auth"
	"github.com/selfdb/gateway/internal/gateway"
	"github.com/selfdb/gateway/internal/storage"
)

// Storage wires bucket CRUD and the raw-body streaming upload/download
// proxy to their routes.
type Storage struct {
	buckets *storage.Buckets
	files   *storage.Files
	auth    *auth.Service
}

func NewStorage(buckets *storage.Buckets, files *storage.Files, authSvc *auth.Service) *Storage {
	return &Storage{buckets: buckets, files: files, auth: authSvc}
}

func (h *Storage) bucketOwnership(c *fiber.Ctx) (string, error) {
	return h.buckets.OwnerID(c.Context(), c.Params("id"))
}

func (h *Storage) fileOwnership(c *fiber.Ctx) (string, error) {
	return h.files.OwnerID(c.Context(), c.Params("id"))
}

func (h *Storage) Register(router fiber.Router) {
	a := h.auth
	router.Get("/storage/buckets/", gateway.Wrap(a, gateway.RouteConfig{
		OptionalAuth:       true,
		AllowedQueryParams: map[string]bool{"search": true},
	}, h.listBuckets))
	router.Post("/storage/buckets/", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true}, h.createBucket))
	router.Get("/storage/buckets/:id", gateway.Wrap(a, gateway.RouteConfig{OptionalAuth: true}, h.getBucket))
	router.Patch("/storage/buckets/:id", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true, Ownership: ownershipFor(h.bucketOwnership)}, h.patchBucket))
	router.Delete("/storage/buckets/:id", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true, Ownership: ownershipFor(h.bucketOwnership)}, h.deleteBucket))

	router.Post("/storage/files/upload", gateway.Wrap(a, gateway.RouteConfig{
		OptionalAuth:       true,
		AllowedQueryParams: map[string]bool{"bucket_id": true, "filename": true, "path": true, "content_type": true},
	}, h.upload))
	router.Get("/storage/files/download/:bucket/*", gateway.Wrap(a, gateway.RouteConfig{OptionalAuth: true}, h.download))
	router.Delete("/storage/files/:id", gateway.Wrap(a, gateway.RouteConfig{RequiresAuth: true, Ownership: ownershipFor(h.fileOwnership)}, h.deleteFile))
}

func (h *Storage) createBucket(c *fiber.Ctx) error {
	var in storage.CreateBucketInput
	if err := gateway.ParseStrict(c, &in); err != nil {
		return err
	}
	user := gateway.CurrentUser(c)
	bucket, err := h.buckets.Create(c.Context(), user.ID, in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(bucket)
}

func (h *Storage) getBucket(c *fiber.Ctx) error {
	bucket, err := h.buckets.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	if !bucket.CanAccess(gateway.CurrentUser(c) != nil) {
		return apierror.NotFoundErr("bucket")
	}
	return c.JSON(bucket)
}

func (h *Storage) listBuckets(c *fiber.Ctx) error {
	user := gateway.CurrentUser(c)
	callerID, authenticated := "", false
	if user != nil {
		callerID, authenticated = user.ID, true
	}
	search := c.Query("search")
	buckets, err := h.buckets.List(c.Context(), search, callerID, authenticated)
	if err != nil {
		return err
	}
	total, err := h.buckets.Count(c.Context(), search, callerID, authenticated)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": buckets, "total": total})
}

func (h *Storage) patchBucket(c *fiber.Ctx) error {
	var in storage.PatchBucketInput
	if err := gateway.ParseStrict(c, &in); err != nil {
		return err
	}
	bucket, err := h.buckets.Patch(c.Context(), c.Params("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(bucket)
}

func (h *Storage) deleteBucket(c *fiber.Ctx) error {
	if err := h.buckets.Delete(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// upload streams the raw request body straight to the storage worker.
// No multipart parsing, no buffering — c.Context().RequestBodyStream()
// gives a reader over the body as it arrives off the wire.
func (h *Storage) upload(c *fiber.Ctx) error {
	bucketID := c.Query("bucket_id")
	if bucketID == "" {
		return apierror.BadInputErr("bucket_id is required")
	}
	bucket, err := h.buckets.Get(c.Context(), bucketID)
	if err != nil {
		return err
	}
	if bucket.Public == false && gateway.CurrentUser(c) == nil {
		return apierror.InvalidOrExpiredTokenErr()
	}

	filename := c.Query("filename")
	path := c.Query("path")
	contentType := c.Query("content_type")
	if contentType == "" {
		contentType = c.Get("Content-Type")
	}
	contentLength := int64(c.Request().Header.ContentLength())

	var ownerID *string
	if user := gateway.CurrentUser(c); user != nil {
		id := user.ID
		ownerID = &id
	}

	body := c.Context().RequestBodyStream()
	result, err := h.files.Upload(c.Context(), bucketID, ownerID, body, filename, path, contentType, contentLength)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"file":          result.File,
		"original_path": result.OriginalPath,
		"renamed":       result.Renamed,
	})
}

func (h *Storage) download(c *fiber.Ctx) error {
	bucketName := c.Params("bucket")
	path := strings.TrimPrefix(c.Params("*"), "/")
	if path == "" {
		return apierror.NotFoundErr("file")
	}

	bucket, err := h.buckets.GetByName(c.Context(), bucketName)
	if err != nil {
		return err
	}
	if !bucket.CanAccess(gateway.CurrentUser(c) != nil) {
		return apierror.NotFoundErr("file")
	}

	body, file, err := h.files.Download(c.Context(), bucketName, path)
	if err != nil {
		return err
	}
	defer body.Close()

	c.Set("Content-Type", file.MimeType)
	c.Set("Content-Disposition", `attachment; filename="`+file.Name+`"`)
	return c.SendStream(body, int(file.Size))
}

func (h *Storage) deleteFile(c *fiber.Ctx) error {
	if err := h.files.Delete(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
