package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/z-wentao/jkid/pkg/assets"
	"github.com/z-wentao/jkid/pkg/models"
	"github.com/z-wentao/jkid/pkg/queue"
	"github.com/z-wentao/jkid/pkg/tts"
)

// setupRouter 设置路由
func (app *App) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(app.logger), cors())
	r.MaxMultipartMemory = app.config.Server.MaxUploadSize

	r.Static(assets.AudioURLPrefix, app.config.Server.AudioDir)
	r.Static("/images", app.config.Server.UploadDir)

	api := r.Group("/api")
	{
		api.GET("/ping", app.handlePing)
		api.POST("/upload", app.handleUpload)
		api.GET("/task/:task_id", app.handleGetTask) // 轮询任务状态
		api.GET("/tasks", app.handleListTasks)       // 调试用：列出所有任务
		api.GET("/history", app.handleHistory)       // 已归档的任务
		api.POST("/tts", app.handleTTS)
		api.POST("/tts/audio", app.handleTTSAudio)
		api.GET("/ocr/:filename", app.handleOCR)
	}
	return r
}

// handlePing 健康检查
func (app *App) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"version": "1.0.0",
	})
}

// handleUpload 保存图片并提交任务
func (app *App) handleUpload(c *gin.Context) {
	// 1. 获取文件
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请上传文件"})
		return
	}

	// 2. 验证文件格式，生成安全文件名
	name, err := assets.UploadName(file.Filename, time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "不支持的文件格式。支持的格式: png, jpg, jpeg, heic, heif, gif, bmp",
		})
		return
	}

	// 3. 验证文件大小
	if file.Size > app.config.Server.MaxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("文件大小超过限制（%.0fMB）", float64(app.config.Server.MaxUploadSize)/1024/1024),
		})
		return
	}

	// 4. 保存文件
	savePath := filepath.Join(app.config.Server.UploadDir, name)
	if err := c.SaveUploadedFile(file, savePath); err != nil {
		app.logger.Error("❌ 保存文件失败", "path", savePath, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "上传失败: 保存文件失败"})
		return
	}
	app.logger.Info("✓ 文件已保存", "filename", name, "size_mb", float64(file.Size)/1024/1024)

	// 5. 提交任务
	taskID, err := app.supervisor.Submit(c.Request.Context(), savePath)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"task_id": taskID, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"task_id":  taskID,
		"filename": name,
		"message":  "文件上传成功，正在处理...",
	})
}

// handleGetTask result 只在完成时返回，error 只在失败时返回
func (app *App) handleGetTask(c *gin.Context) {
	task, ok := app.supervisor.GetTask(c.Param("task_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
		return
	}
	c.JSON(http.StatusOK, taskResponse(task))
}

func taskResponse(t models.Task) gin.H {
	resp := gin.H{
		"success":    true,
		"task_id":    t.ID,
		"filename":   t.Filename,
		"status":     t.Status,
		"progress":   t.Progress,
		"created_at": t.CreatedAt,
		"updated_at": t.UpdatedAt,
	}
	if t.Status == models.StatusCompleted && t.Result != nil {
		resp["result"] = t.Result
	}
	if t.Status == models.StatusFailed && t.Error != "" {
		resp["error"] = t.Error
	}
	return resp
}

// handleListTasks 列出内存中的所有任务
func (app *App) handleListTasks(c *gin.Context) {
	tasks := app.supervisor.ListTasks()
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": len(tasks),
	})
}

// handleHistory 查询归档，?limit= 默认 20
func (app *App) handleHistory(c *gin.Context) {
	if app.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "任务归档未启用"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 需要在 1-200 之间"})
		return
	}

	tasks, err := app.history.Recent(c.Request.Context(), limit)
	if err != nil {
		app.logger.Error("❌ 查询归档失败", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询归档失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

// TTSRequest 同步合成请求
type TTSRequest struct {
	Text         string  `json:"text"`
	VoiceName    string  `json:"voice_name"`
	SpeakingRate float64 `json:"speaking_rate" binding:"omitempty,gte=0.25,lte=4"`
	Model        string  `json:"model"`
}

func (app *App) synthesize(c *gin.Context) ([]byte, models.VoiceConfig, bool) {
	voice := app.voice
	if app.speech == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Text-to-Speech 服务未初始化。请检查 GOOGLE_CLOUD_API_KEY 环境变量。"})
		return nil, voice, false
	}

	var req TTSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return nil, voice, false
	}
	if req.VoiceName != "" {
		voice.Name = req.VoiceName
	}
	if req.SpeakingRate > 0 {
		voice.SpeakingRate = req.SpeakingRate
	}
	if req.Model != "" {
		voice.Model = req.Model
	}

	audio, err := app.speech.Synthesize(c.Request.Context(), req.Text, voice)
	if errors.Is(err, tts.ErrEmptyText) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "文本内容为空"})
		return nil, voice, false
	}
	if err != nil {
		app.logger.Error("❌ 语音合成失败", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "处理失败: " + err.Error()})
		return nil, voice, false
	}
	return audio, voice, true
}

// handleTTS 返回 base64 音频
func (app *App) handleTTS(c *gin.Context) {
	audio, voice, ok := app.synthesize(c)
	if !ok {
		return
	}
	model := voice.Model
	if model == "" {
		model = "default"
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"audio_data":   base64.StdEncoding.EncodeToString(audio),
		"audio_format": voice.AudioEncoding,
		"voice_name":   voice.Name,
		"model":        model,
	})
}

// handleTTSAudio 直接返回音频，供 <audio> 标签使用
func (app *App) handleTTSAudio(c *gin.Context) {
	audio, voice, ok := app.synthesize(c)
	if !ok {
		return
	}
	c.Header("Content-Disposition", "inline; filename=speech"+voice.AudioEncoding.Ext())
	c.Data(http.StatusOK, voice.AudioEncoding.ContentType(), audio)
}

// handleOCR 同步识别已上传的图片
func (app *App) handleOCR(c *gin.Context) {
	if app.ocr == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "OCR 模块未初始化，请检查 GOOGLE_CLOUD_API_KEY 环境变量"})
		return
	}

	filename := filepath.Base(c.Param("filename"))
	path := filepath.Join(app.config.Server.UploadDir, filename)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "文件不存在"})
		return
	}

	res, err := app.ocr.ExtractText(c.Request.Context(), path, models.DetectDocumentText)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"filename":    filename,
		"full_text":   res.FullText,
		"text_blocks": res.TextBlocks,
		"language":    res.Language,
	})
}
