package judge0

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayzthp/ColabCode/internal/domain"
)

const (
	DefaultBaseURL = "https://judge0-ce.p.rapidapi.com"
	DefaultHost    = "judge0-ce.p.rapidapi.com"
)

// ErrSubmissionFailed 表示 Judge0 拒绝了提交或无法访问
var ErrSubmissionFailed = errors.New("judge0: submission failed")

// Config 是 Judge0 客户端的配置
type Config struct {
	BaseURL string
	APIKey  string
	APIHost string
	Timeout time.Duration
}

// Client 通过 RapidAPI 调用 Judge0 CE 的同步提交接口
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient 创建 Judge0 客户端
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIHost == "" {
		cfg.APIHost = DefaultHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type submissionRequest struct {
	SourceCode string `json:"source_code"`
	LanguageID int    `json:"language_id"`
	Stdin      string `json:"stdin"`
}

type submissionStatus struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

type submissionResponse struct {
	Stdout        *string          `json:"stdout"`
	Stderr        *string          `json:"stderr"`
	CompileOutput *string          `json:"compile_output"`
	Message       *string          `json:"message"`
	Status        submissionStatus `json:"status"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Execute 提交代码并等待结果，输入输出都使用 base64 编码传输
func (c *Client) Execute(ctx context.Context, languageID int, source, stdin string) (*domain.ExecutionResult, error) {
	body, err := json.Marshal(submissionRequest{
		SourceCode: base64.StdEncoding.EncodeToString([]byte(source)),
		LanguageID: languageID,
		Stdin:      base64.StdEncoding.EncodeToString([]byte(stdin)),
	})
	if err != nil {
		return nil, fmt.Errorf("judge0: marshal submission: %w", err)
	}

	url := c.cfg.BaseURL + "/submissions?base64_encoded=true&wait=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("judge0: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-RapidAPI-Key", c.cfg.APIKey)
	req.Header.Set("X-RapidAPI-Host", c.cfg.APIHost)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrSubmissionFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		msg := "Execution failed"
		if json.Unmarshal(raw, &apiErr) == nil {
			if apiErr.Message != "" {
				msg = apiErr.Message
			} else if apiErr.Error != "" {
				msg = apiErr.Error
			}
		}
		logrus.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"language_id": languageID,
		}).Warnf("judge0: submission rejected: %s", msg)
		return nil, fmt.Errorf("%w: %s", ErrSubmissionFailed, msg)
	}

	var sub submissionResponse
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSubmissionFailed, err)
	}

	result := &domain.ExecutionResult{Status: sub.Status.Description}
	if result.Stdout, err = decodeField(sub.Stdout); err != nil {
		return nil, err
	}
	if result.Stderr, err = decodeField(sub.Stderr); err != nil {
		return nil, err
	}
	if result.CompileOutput, err = decodeField(sub.CompileOutput); err != nil {
		return nil, err
	}
	return result, nil
}

func decodeField(v *string) (string, error) {
	if v == nil || *v == "" {
		return "", nil
	}
	// Judge0 会在 base64 中插入换行
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(*v, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("%w: decode base64 field: %v", ErrSubmissionFailed, err)
	}
	return string(decoded), nil
}
