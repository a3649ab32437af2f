// Package command 将各渠道的文本指令解析为结构化命令，并按固定优先级解析为结果。
package command

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"DeafFirst-Hub/pkg/logger"
)

// RefundLookup 查询用户的退税状态。
type RefundLookup interface {
	RefundStatus(ctx context.Context, userID string) (map[string]any, error)
}

// Searcher 在平台内容中检索。
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]map[string]any, error)
}

// Observer 在每次解析完成后被调用。
type Observer func(kind Kind, platform string, status Status, elapsed time.Duration)

// Router 按固定顺序解析命令：固定命令表、领域子命令、自然语言关键词、通用帮助。
type Router struct {
	topics   []Topic
	refunds  RefundLookup
	searcher Searcher
	logger   *slog.Logger
	observer Observer
	timeout  time.Duration
}

// Option 自定义 Router。
type Option func(*Router)

// WithTopics 替换自然语言关键词表。
func WithTopics(topics []Topic) Option {
	return func(r *Router) {
		if len(topics) > 0 {
			r.topics = append([]Topic(nil), topics...)
		}
	}
}

// WithRefundLookup 设置退税查询协作方。
func WithRefundLookup(l RefundLookup) Option {
	return func(r *Router) { r.refunds = l }
}

// WithSearcher 设置检索协作方。
func WithSearcher(s Searcher) Option {
	return func(r *Router) { r.searcher = s }
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver 设置解析观察者，用于指标统计。
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observer = o }
}

// WithCollaboratorTimeout 设置协作方调用的超时时间。
func WithCollaboratorTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRouter 创建命令路由器。
func NewRouter(opts ...Option) *Router {
	r := &Router{
		topics:  DefaultTopics(),
		logger:  logger.Named("command"),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type match struct {
	kind    Kind
	domain  Domain
	service *Service
	topic   Topic
}

type rule struct {
	name  string
	match func(r *Router, cmd Command) (match, bool)
}

// rules 的顺序即优先级，最后一条总是匹配。
var rules = []rule{
	{name: "fixed", match: matchFixed},
	{name: "domain", match: matchDomain},
	{name: "natural_language", match: matchNaturalLanguage},
	{name: "fallback", match: func(*Router, Command) (match, bool) { return match{kind: KindFallback}, true }},
}

func matchFixed(_ *Router, cmd Command) (match, bool) {
	if cmd.Domain != "" || cmd.Verb == "" {
		return match{}, false
	}
	kind, ok := fixedVerbs[cmd.Verb]
	return match{kind: kind}, ok
}

func matchDomain(_ *Router, cmd Command) (match, bool) {
	name := cmd.Domain
	if name == "" {
		name = cmd.Verb
	}
	d, ok := domainByName(name)
	if !ok {
		return match{}, false
	}
	m := match{kind: KindDomain, domain: d}
	if s, ok := d.Lookup(cmd.Subcommand); ok {
		m.service = &s
	}
	return m, true
}

func matchNaturalLanguage(r *Router, cmd Command) (match, bool) {
	t, ok := matchTopic(r.topics, cmd.text())
	return match{kind: KindNaturalLanguage, topic: t}, ok
}

type handler func(r *Router, ctx context.Context, cmd Command, m match) Result

var handlers = [kindCount]handler{
	KindHelp:            (*Router).help,
	KindUpload:          (*Router).upload,
	KindDownload:        (*Router).download,
	KindRefundStatus:    (*Router).refundStatus,
	KindFeedback:        (*Router).feedback,
	KindAssistance:      (*Router).assistance,
	KindQuestion:        (*Router).question,
	KindSearch:          (*Router).search,
	KindStartFiling:     (*Router).startFiling,
	KindDomain:          (*Router).domainService,
	KindNaturalLanguage: (*Router).naturalLanguage,
	KindFallback:        (*Router).fallback,
}

// Resolve 解析命令并返回结果。未设置动词但带有原始文本的命令会先经过 Parse。
// 处理函数中的 panic 被恢复并转换为错误结果，Resolve 从不向调用方抛出。
func (r *Router) Resolve(ctx context.Context, cmd Command) (res Result) {
	if cmd.Verb == "" && cmd.Domain == "" && cmd.Raw != "" {
		cmd = Parse(cmd.Raw, cmd.UserID, cmd.Platform, cmd.Context)
	}
	cmd = cmd.normalized()
	start := time.Now()
	m := match{kind: KindFallback}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("命令处理异常",
				slog.String("kind", m.kind.String()),
				slog.String("platform", cmd.Platform),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			res = Result{
				Status:  StatusError,
				Message: "Something went wrong while processing your request. Please try again or type /assistance for ASL support.",
				Kind:    m.kind,
				Hints:   hints("alert-circle", "red", "shake", true),
			}
		}
		if r.observer != nil {
			r.observer(res.Kind, cmd.Platform, res.Status, time.Since(start))
		}
	}()

	for _, rl := range rules {
		if found, ok := rl.match(r, cmd); ok {
			m = found
			break
		}
	}
	r.logger.Info("处理命令",
		slog.String("kind", m.kind.String()),
		slog.String("verb", cmd.Verb),
		slog.String("user_id", cmd.UserID),
		slog.String("platform", cmd.Platform),
	)
	return handlers[m.kind](r, ctx, cmd, m)
}

func (r *Router) help(_ context.Context, _ Command, _ match) Result {
	return success(KindHelp, HelpText, map[string]any{
		"asl_video_available": true,
		"next_actions":        []string{"Choose a command", "Ask a question", "Connect with ASL support"},
	}, hints("help-circle", "blue", "fade", false))
}

func (r *Router) upload(_ context.Context, _ Command, _ match) Result {
	return success(KindUpload, "Please upload your document. Supported formats: PDF, JPG, PNG. ASL instructions available.", map[string]any{
		"action_required":   "file_upload",
		"supported_formats": []string{"pdf", "jpg", "jpeg", "png"},
		"asl_video_url":     "/asl/upload-instructions",
	}, hints("upload", "green", "pulse", false))
}

func (r *Router) download(_ context.Context, _ Command, _ match) Result {
	return success(KindDownload, "Available downloads:", map[string]any{
		"downloads": []map[string]string{
			{"name": "Tax Forms", "type": "tax_forms", "description": "Current year tax forms"},
			{"name": "Financial Reports", "type": "reports", "description": "Your financial summaries"},
			{"name": "Insurance Documents", "type": "insurance", "description": "Policy documents"},
			{"name": "User Guide", "type": "guide", "description": "Platform user guide with ASL"},
		},
	}, hints("download", "blue", "bounce", false))
}

func (r *Router) refundStatus(ctx context.Context, cmd Command, _ match) Result {
	h := hints("dollar-sign", "green", "pulse", false)
	if r.refunds != nil && cmd.UserID != "" {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		status, err := r.refunds.RefundStatus(callCtx, cmd.UserID)
		if err == nil {
			return success(KindRefundStatus, "Here is your latest refund status.", map[string]any{
				"refund":                status,
				"asl_support_available": true,
			}, h)
		}
		r.logger.Warn("查询退税状态失败，返回静态提示", slog.String("user_id", cmd.UserID), slog.Any("error", err))
	}
	return success(KindRefundStatus, "Checking your refund status...", map[string]any{
		"action_required":       "refund_lookup",
		"fields_needed":         []string{"ssn_last_4", "refund_amount", "filing_status"},
		"asl_support_available": true,
	}, h)
}

func (r *Router) feedback(_ context.Context, _ Command, _ match) Result {
	return success(KindFeedback, "We value your feedback! You can provide feedback via text or ASL video.", map[string]any{
		"feedback_options": []string{"text", "asl_video", "voice_note"},
	}, hints("message-circle", "purple", "fade", false))
}

func (r *Router) assistance(_ context.Context, _ Command, _ match) Result {
	return success(KindAssistance, "Connecting you with ASL support. Choose your preferred communication method:", map[string]any{
		"support_options": []map[string]string{
			{"type": "live_asl", "description": "Live ASL interpreter", "availability": "immediate"},
			{"type": "asl_video", "description": "Pre-recorded ASL explanations", "availability": "immediate"},
			{"type": "text_chat", "description": "Text-based support", "availability": "immediate"},
			{"type": "schedule_call", "description": "Schedule ASL video call", "availability": "next_available"},
		},
	}, hints("users", "blue", "pulse", true))
}

func (r *Router) question(_ context.Context, cmd Command, _ match) Result {
	q := cmd.query()
	if q == "" {
		return success(KindQuestion, "What would you like to know? Ask about taxes, insurance, financial planning, or platform features.", map[string]any{
			"suggested_topics": []string{"Tax deductions", "Insurance options", "Financial planning", "Platform features"},
		}, hints("help-circle", "blue", "fade", false))
	}
	return success(KindQuestion, "Searching for information about: "+q, map[string]any{
		"action_required":           "knowledge_search",
		"query":                     q,
		"asl_explanation_available": true,
	}, nil)
}

var searchCategories = []string{"Tax Information", "Insurance Products", "Financial Education", "ASL Videos", "Forms"}

func (r *Router) search(ctx context.Context, cmd Command, _ match) Result {
	h := hints("search", "green", "pulse", false)
	q := cmd.query()
	if q == "" {
		return success(KindSearch, "What would you like to search for?", map[string]any{
			"search_categories": searchCategories,
		}, h)
	}
	if r.searcher != nil {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		records, err := r.searcher.Search(callCtx, q, 5)
		if err == nil {
			return success(KindSearch, fmt.Sprintf("Found %d results for: %s", len(records), q), map[string]any{
				"query":   q,
				"results": records,
			}, h)
		}
		r.logger.Warn("检索失败，返回静态提示", slog.String("query", q), slog.Any("error", err))
	}
	return success(KindSearch, "Searching platform for: "+q, map[string]any{
		"query":             q,
		"search_categories": searchCategories,
	}, h)
}

func (r *Router) startFiling(_ context.Context, _ Command, _ match) Result {
	steps := []string{"Gather Documents", "Personal Information", "Income Reporting", "Deductions", "Review & Submit"}
	data := make([]map[string]any, 0, len(steps))
	for i, title := range steps {
		data = append(data, map[string]any{"step": i + 1, "title": title, "asl_video": true})
	}
	return success(KindStartFiling, "Starting your tax filing process. ASL guidance available at every step.", map[string]any{
		"action_required": "tax_filing_start",
		"steps":           data,
		"estimated_time":  "30-45 minutes",
		"asl_support":     "Available throughout process",
	}, hints("file-text", "green", "bounce", false))
}

func (r *Router) domainService(_ context.Context, _ Command, m match) Result {
	d := m.domain
	if m.service == nil {
		return success(KindDomain, fmt.Sprintf("Available %s commands:", d.Name), map[string]any{
			"domain":       d.Name,
			"commands":     d.verbs(),
			"descriptions": d.descriptions(),
		}, nil)
	}
	title := d.ServiceTitle(*m.service)
	return success(KindDomain, title+": "+m.service.Description, map[string]any{
		"domain":                d.Name,
		"service":               title,
		"action_required":       d.Name + "_" + m.service.Verb,
		"asl_support_available": true,
	}, nil)
}

func (r *Router) naturalLanguage(_ context.Context, cmd Command, m match) Result {
	msg := m.topic.Reply
	if msg == "" {
		msg = fmt.Sprintf("I understand you're asking about %s. Let me help you with that.", m.topic.Keyword)
	}
	return success(KindNaturalLanguage, msg, map[string]any{
		"category":                  m.topic.Category,
		"action_required":           "natural_language_processing",
		"original_query":            cmd.text(),
		"asl_explanation_available": true,
	}, nil)
}

func (r *Router) fallback(_ context.Context, _ Command, _ match) Result {
	return success(KindFallback, "I'm here to help! You can ask about taxes, insurance, financial planning, or use specific commands.", map[string]any{
		"suggested_commands": []string{"/help", "/filemytaxes", "/assistance"},
	}, hints("message-circle", "blue", "fade", false))
}

// HelpText 是 /help 的固定回复。
const HelpText = `🤟 DEAF FIRST Platform Commands:

Financial Commands:
/filemytaxes - Start tax filing process
/wheremyrefund - Check refund status
/financial advice - Get financial guidance
/insurance options - View insurance products

File Operations:
/uploadfile - Upload tax documents
/download - Download forms/documents

Support:
/assistance - Connect with ASL support
/question [topic] - Ask specific questions
/search [term] - Search platform content
/feedback - Provide platform feedback

Type any command or ask questions in natural language.
ASL video explanations available for all features.`
