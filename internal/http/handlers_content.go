package http

import (
	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/gofiber/fiber/v2"

	"newswire/internal/store"
)

// contentListHandler returns one page of scraped articles, newest first,
// with optional search/source/language/status filters.
func contentListHandler(c *fiber.Ctx) error {
	content := c.Locals("content").(ContentStore)
	page, pageSize := parsePage(c)

	articles, total, err := content.ListArticles(c.Context(), store.ArticleFilter{
		Search:   c.Query("search"),
		SourceID: c.Query("source"),
		Language: c.Query("language"),
		Status:   c.Query("status"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return respondError(c, err)
	}
	return listResponse(c, articles, total, page, pageSize)
}

var markdownConverter = md.NewConverter("", true, nil)

// contentDetailHandler returns one article. With ?format=markdown the
// retained page HTML is converted on the fly; articles stored without HTML
// fall back to the cleaned plain text.
func contentDetailHandler(c *fiber.Ctx) error {
	content := c.Locals("content").(ContentStore)
	id, err := parseID(c)
	if err != nil {
		return err
	}

	article, err := content.GetArticle(c.Context(), id)
	if err != nil {
		return respondError(c, err)
	}

	if c.Query("format") == "markdown" {
		markdown := article.Content
		if article.FullHTML != nil {
			if converted, err := markdownConverter.ConvertString(*article.FullHTML); err == nil {
				markdown = converted
			}
		}
		return c.JSON(fiber.Map{
			"id":       article.ID.String(),
			"title":    article.Title,
			"markdown": markdown,
		})
	}
	return c.JSON(article)
}
