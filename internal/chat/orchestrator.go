// Package chat 实现带文档上下文的对话编排
// 每个 WebSocket 连接对应一个 Orchestrator，同一时刻只处理一轮对话
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/KlutzyFella/Papyrus/internal/extractor"
	"github.com/KlutzyFella/Papyrus/internal/logger"
	"github.com/KlutzyFella/Papyrus/internal/model"
	"github.com/KlutzyFella/Papyrus/internal/observability"
	"github.com/KlutzyFella/Papyrus/internal/service"
	"github.com/KlutzyFella/Papyrus/pkg/util"
)

// 对话错误
var (
	ErrInvalidTurn       = errors.New("invalid turn")       // 输入为空或上一轮尚未结束
	ErrCompletionFailed  = errors.New("completion failed")  // 大模型调用失败或无回复
	ErrClosed            = errors.New("session closed")     // 连接已关闭，结果被丢弃
	ErrPersistenceFailed = service.ErrPersistenceFailed     // 消息记录读写失败
)

// MessageLog 消息记录
// 由 service.MessageService 实现
type MessageLog interface {
	Append(ctx context.Context, ownerID int64, role, text string, attachmentName *string) (*model.Message, error)
	ListOrdered(ctx context.Context, ownerID int64) ([]model.Message, error)
}

// Completer 大模型补全
// 由 completion.Client 实现
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Extractor 文档解析
// 由 extractor.Service 实现
type Extractor interface {
	Extract(ctx context.Context, data []byte, mediaType string) (string, error)
}

// Deps 所有连接共享的依赖
type Deps struct {
	Log               MessageLog
	Completer         Completer
	Extractor         Extractor
	CompletionTimeout time.Duration
	Logger            *logger.Logger
}

// Orchestrator 单个会话的对话编排器
// mu 只保护内存状态，任何 I/O 期间都不持有
type Orchestrator struct {
	deps     Deps
	owner    int64
	listener Listener
	log      *logger.Logger

	mu       sync.Mutex
	state    State
	busy     bool
	closed   bool
	doc      DocumentContext
	entries  []Entry
	localSeq int64

	emitMu sync.Mutex
}

// New 创建编排器
// 参数:
//   - deps: 共享依赖
//   - owner: 已验证会话中的用户ID
//   - listener: 视图变化回调，可为 nil
func New(deps Deps, owner int64, listener Listener) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{
		deps:     deps,
		owner:    owner,
		listener: listener,
		log:      log.With("component", "chat", "user_id", owner),
		state:    StateIdle,
		entries:  make([]Entry, 0),
	}
}

// Submit 处理一轮用户输入
// 流程: 写入用户消息 -> 调用大模型 -> 写入助手回复
// 用户消息写入失败时不会调用大模型；大模型失败时显示本地提示，不写入
//
// 返回:
//   - error: ErrInvalidTurn / ErrPersistenceFailed / ErrCompletionFailed / ErrClosed
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	start := time.Now()
	if strings.TrimSpace(text) == "" {
		observability.Current().ObserveTurn("rejected", 0)
		return ErrInvalidTurn
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.busy {
		o.mu.Unlock()
		observability.Current().ObserveTurn("rejected", 0)
		return ErrInvalidTurn
	}
	o.busy = true
	doc := o.doc
	attachment := util.StringPtr(doc.Name)
	userEntry := o.appendLocked(Entry{
		Role:           model.MessageRoleUser,
		Text:           text,
		AttachmentName: attachment,
		Timestamp:      time.Now().UTC(),
		Status:         StatusPending,
	})
	events := []Event{o.setStateLocked(StateSending), entryEvent(userEntry)}
	o.mu.Unlock()
	o.emit(events...)

	ctx, span := observability.Tracer().Start(ctx, "chat.Submit", trace.WithAttributes(
		attribute.Int64("chat.user_id", o.owner),
		attribute.Bool("chat.has_document", doc.Active()),
	))
	defer span.End()

	o.log.Debug("turn started", "question", util.TruncateString(text, 80), "document", doc.Name)

	outcome, err := o.runTurn(ctx, userEntry.Key, text, doc, attachment)
	observability.Current().ObserveTurn(outcome, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		o.log.Warn("turn failed", "outcome", outcome, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return err
	}
	o.log.Info("turn done", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// runTurn 执行两次写入和一次补全，返回结果标签
func (o *Orchestrator) runTurn(ctx context.Context, userKey, text string, doc DocumentContext, attachment *string) (string, error) {
	prompt := ComposePrompt(doc.Text, text)

	saved, err := o.deps.Log.Append(ctx, o.owner, model.MessageRoleUser, text, attachment)
	if err != nil {
		o.finish(userKey, func(e *Entry) { e.Status = StatusUnsent })
		// 输入已在进入忙碌状态前校验，此时被拒只能是写入失败
		if errors.Is(err, service.ErrInvalidMessage) {
			return "unsent", fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
		}
		return "unsent", err
	}

	if !o.advance(StateAwaitingCompletion, userKey, func(e *Entry) {
		e.ID = saved.ID
		e.Timestamp = saved.CreatedAt
		e.Status = StatusPersisted
	}) {
		return "discarded", ErrClosed
	}

	reply, err := o.complete(ctx, prompt)

	o.mu.Lock()
	if o.closed {
		o.busy = false
		o.mu.Unlock()
		return "discarded", ErrClosed
	}
	if err != nil {
		notice := o.appendLocked(Entry{
			Role:      model.MessageRoleAssistant,
			Text:      noticeCompletionFailed,
			Timestamp: time.Now().UTC(),
			Status:    StatusLocal,
		})
		o.busy = false
		events := []Event{entryEvent(notice), o.setStateLocked(StateIdle)}
		o.mu.Unlock()
		o.emit(events...)
		return "completion_failed", fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}
	replyEntry := o.appendLocked(Entry{
		Role:           model.MessageRoleAssistant,
		Text:           reply,
		AttachmentName: attachment,
		Timestamp:      time.Now().UTC(),
		Status:         StatusPending,
	})
	events := []Event{entryEvent(replyEntry), o.setStateLocked(StatePersisting)}
	o.mu.Unlock()
	o.emit(events...)

	savedReply, err := o.deps.Log.Append(ctx, o.owner, model.MessageRoleAssistant, reply, attachment)
	if err != nil {
		o.finish(replyEntry.Key, func(e *Entry) { e.Status = StatusUnpersisted })
		return "unpersisted", err
	}
	o.finish(replyEntry.Key, func(e *Entry) {
		e.ID = savedReply.ID
		e.Timestamp = savedReply.CreatedAt
		e.Status = StatusPersisted
	})
	return "ok", nil
}

func (o *Orchestrator) complete(ctx context.Context, prompt string) (string, error) {
	if o.deps.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.deps.CompletionTimeout)
		defer cancel()
	}
	return o.deps.Completer.Complete(ctx, prompt)
}

// Attach 加载新文档
// 声明类型不是 PDF 时直接返回 ErrUnsupportedFormat，不改变任何状态
// 旧文档在解析开始前就被清除；解析失败时文档上下文保持为空
// 文件名超过 service.MaxAttachmentName 个字符时截断
// 参数:
//   - ctx: 上下文
//   - name: 文件名
//   - mediaType: 客户端声明的媒体类型
//   - data: 文件内容
func (o *Orchestrator) Attach(ctx context.Context, name, mediaType string, data []byte) error {
	if !extractor.IsPDF(mediaType) {
		return extractor.ErrUnsupportedFormat
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "document.pdf"
	}
	name = util.TruncateString(name, service.MaxAttachmentName)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.busy {
		o.mu.Unlock()
		return ErrInvalidTurn
	}
	o.busy = true
	o.doc = DocumentContext{}
	events := []Event{o.setStateLocked(StateExtracting), {Type: EventDocument}}
	o.mu.Unlock()
	o.emit(events...)

	text, err := o.deps.Extractor.Extract(ctx, data, mediaType)

	o.mu.Lock()
	if o.closed {
		o.busy = false
		o.mu.Unlock()
		return ErrClosed
	}
	var notice Entry
	if err != nil {
		notice = o.appendLocked(Entry{
			Role:      model.MessageRoleAssistant,
			Text:      noticeDocumentFailed,
			Timestamp: time.Now().UTC(),
			Status:    StatusLocal,
		})
	} else {
		o.doc = DocumentContext{Name: name, Text: text}
		notice = o.appendLocked(Entry{
			Role:      model.MessageRoleAssistant,
			Text:      noticeDocumentReady(name),
			Timestamp: time.Now().UTC(),
			Status:    StatusLocal,
		})
	}
	o.busy = false
	events = []Event{
		{Type: EventDocument, Document: o.doc.info()},
		entryEvent(notice),
		o.setStateLocked(StateIdle),
	}
	o.mu.Unlock()
	o.emit(events...)

	if err != nil {
		o.log.Warn("attach document failed", "name", name, "error", err)
		return err
	}
	o.log.Info("document attached", "name", name, "chars", len(text))
	return nil
}

// ClearDocument 清除文档上下文
func (o *Orchestrator) ClearDocument() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.doc = DocumentContext{}
	o.mu.Unlock()
	o.emit(Event{Type: EventDocument})
}

// Document 返回当前文档上下文
func (o *Orchestrator) Document() DocumentContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.doc
}

// Load 用消息记录替换当前视图
// 本地提示和失败条目不在记录中，加载后消失
// 一轮对话进行中时拒绝，避免覆盖尚未完成的条目
func (o *Orchestrator) Load(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.busy {
		o.mu.Unlock()
		return ErrInvalidTurn
	}
	o.mu.Unlock()

	messages, err := o.deps.Log.ListOrdered(ctx, o.owner)
	if err != nil {
		return err
	}

	entries := make([]Entry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, entryFromMessage(m))
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.busy {
		o.mu.Unlock()
		return ErrInvalidTurn
	}
	o.entries = entries
	view := o.snapshotLocked()
	o.mu.Unlock()
	o.emit(Event{Type: EventSnapshot, View: &view})
	return nil
}

// Snapshot 返回当前视图的副本
func (o *Orchestrator) Snapshot() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Busy 是否有进行中的对话或解析
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// Close 关闭编排器
// 之后到达的结果全部丢弃，不再发出事件
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.doc = DocumentContext{}
	o.mu.Unlock()
}

// ==================== 内部方法 ====================

func messageKey(id int64) string {
	return fmt.Sprintf("m%d", id)
}

// appendLocked 追加视图条目，调用方持有 mu
func (o *Orchestrator) appendLocked(e Entry) Entry {
	o.localSeq++
	e.Key = fmt.Sprintf("l%d", o.localSeq)
	o.entries = append(o.entries, e)
	return e
}

// updateLocked 按 key 修改视图条目，条目不存在时返回 false
func (o *Orchestrator) updateLocked(key string, fn func(*Entry)) (Entry, bool) {
	for i := range o.entries {
		if o.entries[i].Key == key {
			fn(&o.entries[i])
			return o.entries[i], true
		}
	}
	return Entry{}, false
}

func (o *Orchestrator) setStateLocked(s State) Event {
	o.state = s
	return Event{Type: EventState, State: s, Busy: o.busy}
}

// advance 更新条目并切换状态，连接已关闭时释放 busy 并返回 false
func (o *Orchestrator) advance(s State, key string, fn func(*Entry)) bool {
	o.mu.Lock()
	if o.closed {
		o.busy = false
		o.mu.Unlock()
		return false
	}
	var events []Event
	if e, ok := o.updateLocked(key, fn); ok {
		events = append(events, entryEvent(e))
	}
	events = append(events, o.setStateLocked(s))
	o.mu.Unlock()
	o.emit(events...)
	return true
}

// finish 更新条目并回到 Idle，释放 busy
func (o *Orchestrator) finish(key string, fn func(*Entry)) {
	o.mu.Lock()
	o.busy = false
	if o.closed {
		o.mu.Unlock()
		return
	}
	var events []Event
	if e, ok := o.updateLocked(key, fn); ok {
		events = append(events, entryEvent(e))
	}
	events = append(events, o.setStateLocked(StateIdle))
	o.mu.Unlock()
	o.emit(events...)
}

func (o *Orchestrator) snapshotLocked() View {
	entries := make([]Entry, len(o.entries))
	copy(entries, o.entries)
	return View{
		Entries:  entries,
		State:    o.state,
		Busy:     o.busy,
		Document: o.doc.info(),
	}
}

func entryEvent(e Entry) Event {
	return Event{Type: EventEntry, Entry: &e}
}

// emit 按顺序投递事件，连接关闭后丢弃
func (o *Orchestrator) emit(events ...Event) {
	if o.listener == nil || len(events) == 0 {
		return
	}
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return
	}
	for _, e := range events {
		o.listener(e)
	}
}
