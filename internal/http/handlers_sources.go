package http

import (
	"github.com/gofiber/fiber/v2"

	"newswire/internal/sources"
)

// sourcesListHandler returns one page of sources ordered by name.
func sourcesListHandler(c *fiber.Ctx) error {
	reg := c.Locals("sources").(SourceRegistry)
	page, pageSize := parsePage(c)

	list, total, err := reg.List(c.Context(), page, pageSize)
	if err != nil {
		return respondError(c, err)
	}
	return listResponse(c, list, total, page, pageSize)
}

// sourceCreateHandler registers a new source after validating its feed.
func sourceCreateHandler(c *fiber.Ctx) error {
	reg := c.Locals("sources").(SourceRegistry)

	var in sources.CreateInput
	if err := c.BodyParser(&in); err != nil {
		return fail(c, fiber.StatusBadRequest, "InvalidRequest", "body must be a JSON source payload")
	}

	src, err := reg.Create(c.Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(src)
}

// sourceUpdateHandler applies a partial update; the feed is re-validated
// only when rssUrl changed.
func sourceUpdateHandler(c *fiber.Ctx) error {
	reg := c.Locals("sources").(SourceRegistry)
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var in sources.UpdateInput
	if err := c.BodyParser(&in); err != nil {
		return fail(c, fiber.StatusBadRequest, "InvalidRequest", "body must be a JSON source patch")
	}

	src, err := reg.Update(c.Context(), id, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(src)
}

// sourceDeleteHandler removes a source; refused with 409 while a
// non-terminal job references it.
func sourceDeleteHandler(c *fiber.Ctx) error {
	reg := c.Locals("sources").(SourceRegistry)
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := reg.Delete(c.Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"id": id.String(), "deleted": true})
}

// sourceTestHandler dry-runs feed validation without mutating the source.
func sourceTestHandler(c *fiber.Ctx) error {
	reg := c.Locals("sources").(SourceRegistry)
	id, err := parseID(c)
	if err != nil {
		return err
	}

	result, err := reg.Test(c.Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}
