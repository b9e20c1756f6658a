package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// listParams is the parsed common query shape shared by every
// `GET /{collection}/` endpoint (skip/limit/search/sort_by/sort_order).
type listParams struct {
	Skip, Limit           int
	Search, SortBy, Order string
}

func parseListParams(c *fiber.Ctx) listParams {
	skip, _ := strconv.Atoi(c.Query("skip"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return listParams{
		Skip: skip, Limit: limit,
		Search: c.Query("search"), SortBy: c.Query("sort_by"), Order: c.Query("sort_order"),
	}
}
