package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bassista/autopersist/internal/app"
	"github.com/bassista/autopersist/internal/document"
	"github.com/bassista/autopersist/internal/logger"
	"github.com/bassista/autopersist/internal/persist"
	"github.com/gin-gonic/gin"
)

// DocumentCatalog resolves configured documents by name.
type DocumentCatalog interface {
	Document(name string) (*app.Document, bool)
	Documents() []*app.Document
}

// DocumentInfo is the list entry returned by GET /documents.
type DocumentInfo struct {
	Name  string         `json:"name"`
	File  string         `json:"file"`
	Shape document.Shape `json:"shape"`
	Stats persist.Stats  `json:"stats"`
}

// DocumentController exposes the bound documents over HTTP. Every mutating
// handler goes through the tracked wrappers, so changes are persisted by the
// document's controller after its debounce window.
type DocumentController struct {
	catalog DocumentCatalog
}

func NewDocumentController(catalog DocumentCatalog) *DocumentController {
	return &DocumentController{catalog: catalog}
}

// AllDocuments handles GET /documents.
func (dc *DocumentController) AllDocuments(c *gin.Context) {
	docs := dc.catalog.Documents()
	out := make([]DocumentInfo, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentInfo{Name: d.Name, File: d.File, Shape: d.Shape, Stats: d.Controller.Stats()})
	}
	c.JSON(http.StatusOK, out)
}

// GetDocument handles GET /documents/:name and returns the whole document.
func (dc *DocumentController) GetDocument(c *gin.Context) {
	d, ok := dc.lookup(c)
	if !ok {
		return
	}
	var (
		body any
		err  error
	)
	if d.Object != nil {
		body, err = d.Object.Snapshot()
	} else {
		body, err = d.Array.Snapshot()
	}
	if err != nil {
		dc.fail(c, d, "read", err)
		return
	}
	c.JSON(http.StatusOK, body)
}

// Stats handles GET /documents/:name/stats.
func (dc *DocumentController) Stats(c *gin.Context) {
	d, ok := dc.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, d.Controller.Stats())
}

// GetKey handles GET /documents/:name/keys/:key.
func (dc *DocumentController) GetKey(c *gin.Context) {
	d, ok := dc.lookupShape(c, document.ShapeObject)
	if !ok {
		return
	}
	key := c.Param("key")
	value, found, err := d.Object.Get(key)
	if err != nil {
		dc.fail(c, d, "get", err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

// PutKey handles PUT /documents/:name/keys/:key. The body is any JSON value.
func (dc *DocumentController) PutKey(c *gin.Context) {
	d, ok := dc.lookupShape(c, document.ShapeObject)
	if !ok {
		return
	}
	var value any
	if err := c.ShouldBindJSON(&value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	prev, existed, err := d.Object.Put(c.Param("key"), value)
	if err != nil {
		dc.fail(c, d, "put", err)
		return
	}
	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"previous": prev, "existed": existed})
}

// DeleteKey handles DELETE /documents/:name/keys/:key.
func (dc *DocumentController) DeleteKey(c *gin.Context) {
	d, ok := dc.lookupShape(c, document.ShapeObject)
	if !ok {
		return
	}
	prev, existed, err := d.Object.Remove(c.Param("key"))
	if err != nil {
		dc.fail(c, d, "remove", err)
		return
	}
	if !existed {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"previous": prev})
}

// Merge handles POST /documents/:name/merge. Every entry of the body object is
// put into the document in one atomic step.
func (dc *DocumentController) Merge(c *gin.Context) {
	d, ok := dc.lookupShape(c, document.ShapeObject)
	if !ok {
		return
	}
	var entries map[string]any
	if err := c.ShouldBindJSON(&entries); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload must be a JSON object"})
		return
	}
	if err := d.Object.PutAll(entries); err != nil {
		dc.fail(c, d, "putAll", err)
		return
	}
	dc.GetDocument(c)
}

// AddItem handles POST /documents/:name/items.
func (dc *DocumentController) AddItem(c *gin.Context) {
	d, ok := dc.lookupShape(c, document.ShapeArray)
	if !ok {
		return
	}
	var value any
	if err := c.ShouldBindJSON(&value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := d.Array.Add(value); err != nil {
		dc.fail(c, d, "add", err)
		return
	}
	n, err := d.Array.Len()
	if err != nil {
		dc.fail(c, d, "len", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"length": n})
}

// SetItem handles PUT /documents/:name/items/:index.
func (dc *DocumentController) SetItem(c *gin.Context) {
	d, ok := dc.lookupShape(c, document.ShapeArray)
	if !ok {
		return
	}
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	var value any
	if err := c.ShouldBindJSON(&value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	prev, err := d.Array.Set(index, value)
	if err != nil {
		dc.fail(c, d, "set", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"previous": prev})
}

// RemoveItem handles DELETE /documents/:name/items/:index.
func (dc *DocumentController) RemoveItem(c *gin.Context) {
	d, ok := dc.lookupShape(c, document.ShapeArray)
	if !ok {
		return
	}
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	prev, err := d.Array.Remove(index)
	if err != nil {
		dc.fail(c, d, "remove", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": prev})
}

// ClearItems handles DELETE /documents/:name/items.
func (dc *DocumentController) ClearItems(c *gin.Context) {
	d, ok := dc.lookupShape(c, document.ShapeArray)
	if !ok {
		return
	}
	if err := d.Array.Clear(); err != nil {
		dc.fail(c, d, "clear", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (dc *DocumentController) lookup(c *gin.Context) (*app.Document, bool) {
	name := c.Param("name")
	d, ok := dc.catalog.Document(name)
	if !ok {
		logger.WithComponent("document-controller").Debugf("document %s: not found", name)
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return nil, false
	}
	return d, true
}

func (dc *DocumentController) lookupShape(c *gin.Context, shape document.Shape) (*app.Document, bool) {
	d, ok := dc.lookup(c)
	if !ok {
		return nil, false
	}
	if d.Shape != shape {
		c.JSON(http.StatusConflict, gin.H{"error": "document " + d.Name + " is an " + string(d.Shape)})
		return nil, false
	}
	return d, true
}

func parseIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return 0, false
	}
	return index, true
}

// fail maps document and controller errors to HTTP statuses.
func (dc *DocumentController) fail(c *gin.Context, d *app.Document, op string, err error) {
	log := logger.WithComponent("document-controller")
	switch {
	case errors.Is(err, document.ErrIndexOutOfRange):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, document.ErrInvalidValue), errors.Is(err, document.ErrNilMergeFunction):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, persist.ErrControllerStopped):
		log.Warnf("%s on %s rejected: %v", op, d.Name, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document is shutting down"})
	default:
		log.Errorf("%s on %s failed: %v", op, d.Name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + op + " document"})
	}
}
