package route

import (
	"time"

	"github.com/bassista/autopersist/internal/api/controller"
	"github.com/bassista/autopersist/internal/api/middleware"
	"github.com/gin-gonic/gin"
)

func NewDocumentRouter(timeout time.Duration, group *gin.RouterGroup, catalog controller.DocumentCatalog) {
	dc := controller.NewDocumentController(catalog)

	docs := group.Group("documents")
	docs.Use(middleware.RequestTimeout(timeout))

	docs.GET("", dc.AllDocuments)
	docs.GET(":name", dc.GetDocument)
	docs.GET(":name/stats", dc.Stats)

	// object documents
	docs.GET(":name/keys/:key", dc.GetKey)
	docs.PUT(":name/keys/:key", dc.PutKey)
	docs.DELETE(":name/keys/:key", dc.DeleteKey)
	docs.POST(":name/merge", dc.Merge)

	// array documents
	docs.POST(":name/items", dc.AddItem)
	docs.DELETE(":name/items", dc.ClearItems)
	docs.PUT(":name/items/:index", dc.SetItem)
	docs.DELETE(":name/items/:index", dc.RemoveItem)
}
