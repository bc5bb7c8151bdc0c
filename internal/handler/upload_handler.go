package handler

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"learnpilot/internal/service"
	"learnpilot/pkg/log"
)

// maxUploadBytes 是单个上传文件的大小上限。
const maxUploadBytes = 50 << 20

// UploadHandler 负责学习资料的上传、下载、删除以及 PDF 问答。
type UploadHandler struct {
	sourceService service.SourceService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(sourceService service.SourceService) *UploadHandler {
	return &UploadHandler{sourceService: sourceService}
}

// Upload 处理 multipart 上传，字段 file 为文件，chatId 可选。
func (h *UploadHandler) Upload(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "未能获取上传的文件")
		return
	}
	defer file.Close()

	log.Infof("[UploadHandler] 收到上传请求, userID: %d, fileName: %s, size: %d", user.ID, header.Filename, header.Size)
	source, err := h.sourceService.Upload(c.Request.Context(), user.ID, service.UploadInput{
		ChatID:      c.PostForm("chatId"),
		FileName:    filepath.Base(header.Filename),
		ContentType: header.Header.Get("Content-Type"),
		File:        file,
	})
	if err != nil {
		failErr(c, "Upload", err)
		return
	}
	ok(c, source)
}

// List 返回用户的全部资料。
func (h *UploadHandler) List(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	sources, err := h.sourceService.List(c.Request.Context(), user.ID)
	if err != nil {
		failErr(c, "ListSources", err)
		return
	}
	ok(c, sources)
}

// Download 返回资料的临时下载地址。
func (h *UploadHandler) Download(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	id, valid := sourceID(c)
	if !valid {
		return
	}
	url, err := h.sourceService.DownloadURL(c.Request.Context(), user.ID, id)
	if err != nil {
		failErr(c, "DownloadURL", err)
		return
	}
	ok(c, gin.H{"url": url})
}

// Delete 删除资料及其对象、分块和索引。
func (h *UploadHandler) Delete(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	id, valid := sourceID(c)
	if !valid {
		return
	}
	if err := h.sourceService.Delete(c.Request.Context(), user.ID, id); err != nil {
		failErr(c, "DeleteSource", err)
		return
	}
	ok(c, nil)
}

// QueryPDF 针对一次性上传的 PDF 提问，字段 file 必填，query、context、metadata、chatId 可选。
func (h *UploadHandler) QueryPDF(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "未能获取上传的文件")
		return
	}
	defer file.Close()

	res, err := h.sourceService.QueryPDF(c.Request.Context(), user.ID, service.PDFQueryInput{
		ChatID:   c.PostForm("chatId"),
		FileName: filepath.Base(header.Filename),
		File:     file,
		Query:    strings.TrimSpace(c.PostForm("query")),
		Context:  c.PostForm("context"),
		Metadata: c.PostForm("metadata"),
	})
	if err != nil {
		failErr(c, "QueryPDF", err)
		return
	}
	ok(c, res)
}

// PDFTopics 从上传的 PDF 生成路线图，字段 file、query 必填，chatId 可选。
func (h *UploadHandler) PDFTopics(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "未能获取上传的文件")
		return
	}
	defer file.Close()

	plan, err := h.sourceService.PDFTopics(c.Request.Context(), user.ID, service.PDFTopicsInput{
		ChatID:   c.PostForm("chatId"),
		FileName: filepath.Base(header.Filename),
		File:     file,
		Query:    c.PostForm("query"),
	})
	if err != nil {
		failErr(c, "PDFTopics", err)
		return
	}
	ok(c, gin.H{"roadmap": plan})
}

// PDFContent 从上传的 PDF 为子主题生成学习条目，字段 file、subtopic 必填。
func (h *UploadHandler) PDFContent(c *gin.Context) {
	user, found := currentUser(c)
	if !found {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "未能获取上传的文件")
		return
	}
	defer file.Close()

	items, err := h.sourceService.PDFContent(c.Request.Context(), user.ID, service.PDFContentInput{
		FileName: filepath.Base(header.Filename),
		File:     file,
		Subtopic: c.PostForm("subtopic"),
	})
	if err != nil {
		failErr(c, "PDFContent", err)
		return
	}
	ok(c, gin.H{"items": items})
}

func sourceID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "无效的资料 ID")
		return 0, false
	}
	return uint(id), true
}
