package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"learnpilot/internal/config"
	"learnpilot/internal/model"
	"learnpilot/pkg/llm"
	"learnpilot/pkg/log"
	"learnpilot/pkg/metrics"
)

// 难度调整方向
const (
	DifficultyAuto   = "auto"
	DifficultyEasier = "easier"
	DifficultySame   = "same"
	DifficultyHarder = "harder"
)

// 简答题评分结论
const (
	VerdictPass   = "PASS"
	VerdictRevise = "REVISE"
)

const (
	defaultMCQCount  = 3
	defaultTextCount = 2
	maxMCQCount      = 6
	maxTextCount     = 4
	mcqOptionCount   = 4
	textPassScore    = 0.6
)

// MCQ 是一道四选一选择题。
type MCQ struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation,omitempty"`
}

// TextQuestion 是一道简答题。
type TextQuestion struct {
	ID      string `json:"id"`
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
}

// Practice 是一批练习题。
type Practice struct {
	MCQs  []MCQ          `json:"mcqs"`
	Texts []TextQuestion `json:"texts"`
}

// GenerateInput 是生成练习的参数。Excerpts 为空时从用户资料中检索。
type GenerateInput struct {
	ChatID     string   `json:"chatId"`
	Topic      string   `json:"topic"`
	Subtopic   string   `json:"subtopic"`
	CountMCQ   int      `json:"numMcqs"`
	CountText  int      `json:"numTexts"`
	Difficulty string   `json:"difficulty"`
	Excerpts   []string `json:"excerpts"`
}

// MCQAnswer 是一道选择题的作答。
type MCQAnswer struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	UserIndex    int      `json:"userIndex"`
}

// MCQGrade 是选择题评分结果。Correct 始终由本地比较得出。
type MCQGrade struct {
	Correct   bool    `json:"correct"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

// TextAnswer 是一道简答题的作答。
type TextAnswer struct {
	Prompt     string `json:"prompt"`
	UserAnswer string `json:"userAnswer"`
	Context    string `json:"context"`
}

// TextGrade 是简答题评分结果。
type TextGrade struct {
	Score    float64 `json:"score"`
	Verdict  string  `json:"verdict"`
	Feedback string  `json:"feedback"`
}

// SubmitInput 是一批作答。Override 为 auto/easier/same/harder 之一，空值视为 auto。
type SubmitInput struct {
	ChatID   string       `json:"chatId"`
	MCQs     []MCQAnswer  `json:"mcqs"`
	Texts    []TextAnswer `json:"texts"`
	Override string       `json:"override"`
}

// BatchResult 是一批作答的评分汇总。
type BatchResult struct {
	MCQ            []MCQGrade  `json:"mcq"`
	Text           []TextGrade `json:"text"`
	Accuracy       float64     `json:"accuracy"`
	Suggestion     string      `json:"suggestion"`
	NextDifficulty string      `json:"nextDifficulty"`
	Recorded       int         `json:"recorded"`
}

// PracticeService 定义了练习生成与评分操作。
type PracticeService interface {
	GeneratePractice(ctx context.Context, userID uint, in GenerateInput) (*Practice, error)
	// GradeMCQ 本地判定正误，模型只提供分数与解释。
	GradeMCQ(ctx context.Context, in MCQAnswer) MCQGrade
	GradeText(ctx context.Context, in TextAnswer) TextGrade
	SuggestDifficulty(accuracy float64) string
	SubmitBatch(ctx context.Context, userID uint, in SubmitInput) (*BatchResult, error)
}

type practiceService struct {
	llmClient     llm.Client
	chatService   ChatService
	searchService SearchService
	cfg           config.PracticeConfig
}

// NewPracticeService 创建一个新的 PracticeService 实例。
func NewPracticeService(llmClient llm.Client, chatService ChatService, searchService SearchService, cfg config.PracticeConfig) PracticeService {
	if cfg.ThresholdOK <= 0 {
		cfg.ThresholdOK = 0.7
	}
	if cfg.ThresholdHarder <= 0 {
		cfg.ThresholdHarder = 0.9
	}
	return &practiceService{
		llmClient:     llmClient,
		chatService:   chatService,
		searchService: searchService,
		cfg:           cfg,
	}
}

var practiceSchema = json.RawMessage(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["mcqs", "texts"],
  "properties": {
    "mcqs": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["question", "options", "correctIndex", "explanation"],
        "properties": {
          "question": {"type": "string"},
          "options": {"type": "array", "items": {"type": "string"}},
          "correctIndex": {"type": "integer"},
          "explanation": {"type": "string"}
        }
      }
    },
    "texts": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["prompt", "context"],
        "properties": {
          "prompt": {"type": "string"},
          "context": {"type": "string"}
        }
      }
    }
  }
}`)

var mcqGradeSchema = json.RawMessage(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["correct", "score", "rationale"],
  "properties": {
    "correct": {"type": "boolean"},
    "score": {"type": "number"},
    "rationale": {"type": "string"}
  }
}`)

var textGradeSchema = json.RawMessage(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["score", "verdict", "feedback"],
  "properties": {
    "score": {"type": "number"},
    "verdict": {"type": "string", "enum": ["PASS", "REVISE"]},
    "feedback": {"type": "string"}
  }
}`)

// GeneratePractice 生成一批练习题。格式错误的题目被丢弃，correctIndex 被限制在 0..3。
func (s *practiceService) GeneratePractice(ctx context.Context, userID uint, in GenerateInput) (*Practice, error) {
	if !s.llmClient.Enabled() {
		return nil, llm.ErrNotConfigured
	}
	numMCQ := clampInt(orDefault(in.CountMCQ, defaultMCQCount), 1, maxMCQCount)
	numText := clampInt(orDefault(in.CountText, defaultTextCount), 1, maxTextCount)

	// 1. 组装学习者上下文
	learner := map[string]interface{}{
		"topic":    in.Topic,
		"subtopic": in.Subtopic,
	}
	if in.Difficulty != "" {
		learner["difficulty"] = in.Difficulty
	}
	if in.ChatID != "" {
		chat, err := s.chatService.GetChat(ctx, userID, in.ChatID)
		if err != nil {
			return nil, err
		}
		meta := chat.MetaData()
		learner["roadmap"] = meta.Roadmap
		learner["recentHistory"] = meta.LastHistory(6)
		learner["recentPerformance"] = meta.LastPerformance(10)
	}
	excerpts := in.Excerpts
	if len(excerpts) == 0 {
		hits, err := s.searchService.HybridSearch(ctx, userID, strings.TrimSpace(in.Topic+" "+in.Subtopic), 3)
		if err != nil {
			log.Warnf("[PracticeService] 检索资料片段失败, 忽略: %v", err)
		}
		for _, h := range hits {
			excerpts = append(excerpts, h.TextContent)
		}
	}
	if len(excerpts) > 0 {
		learner["sourceExcerpts"] = excerpts
	}
	payload, err := json.Marshal(learner)
	if err != nil {
		return nil, err
	}

	// 2. 以严格 JSON 调用模型
	instruction := fmt.Sprintf("You are a tutor. Create %d multiple-choice questions and %d short-answer prompts\n"+
		"for the given TOPIC and SUBTOPIC. Use the learner context (roadmap, recent turns, prior performance, source excerpts) "+
		"to keep phrasing aligned with what's being studied and to target weak spots.\n\n"+
		"Rules:\n- Exactly 4 options per MCQ, and exactly one correct answer.\n- Keep questions concise and unambiguous.\n"+
		"- Match the requested difficulty when one is given.", numMCQ, numText)
	log.Infof("[PracticeService] 生成练习, userID: %d, topic: %s, mcq: %d, text: %d", userID, in.Topic, numMCQ, numText)
	out, err := s.llmClient.CompleteJSON(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: instruction},
		{Role: llm.RoleUser, Content: "INPUT:\n" + string(payload)},
	}, &llm.GenerationParams{Temperature: llm.Float(0.3), MaxTokens: llm.Int(1200)}, llm.JSONSchema{Name: "practice", Schema: practiceSchema})
	if err != nil {
		return nil, fmt.Errorf("generate practice: %w", err)
	}

	// 3. 校验并修整
	var parsed struct {
		MCQs []struct {
			Question     string      `json:"question"`
			Options      []string    `json:"options"`
			CorrectIndex json.Number `json:"correctIndex"`
			Explanation  string      `json:"explanation"`
		} `json:"mcqs"`
		Texts []struct {
			Prompt  string `json:"prompt"`
			Context string `json:"context"`
		} `json:"texts"`
	}
	practice := &Practice{MCQs: []MCQ{}, Texts: []TextQuestion{}}
	if !llm.DecodeJSON(out, &parsed) {
		log.Warnf("[PracticeService] 模型输出无法解析, 返回空练习")
		return practice, nil
	}
	for _, q := range parsed.MCQs {
		if len(practice.MCQs) == numMCQ {
			break
		}
		idx, err := q.CorrectIndex.Float64()
		if strings.TrimSpace(q.Question) == "" || len(q.Options) != mcqOptionCount || err != nil {
			continue
		}
		practice.MCQs = append(practice.MCQs, MCQ{
			ID:           uuid.NewString(),
			Question:     strings.TrimSpace(q.Question),
			Options:      q.Options,
			CorrectIndex: clampInt(int(math.Round(idx)), 0, mcqOptionCount-1),
			Explanation:  q.Explanation,
		})
	}
	for _, t := range parsed.Texts {
		if len(practice.Texts) == numText {
			break
		}
		if strings.TrimSpace(t.Prompt) == "" {
			continue
		}
		practice.Texts = append(practice.Texts, TextQuestion{ID: uuid.NewString(), Prompt: strings.TrimSpace(t.Prompt), Context: t.Context})
	}
	return practice, nil
}

func (s *practiceService) GradeMCQ(ctx context.Context, in MCQAnswer) MCQGrade {
	defer metrics.PracticeGrades.WithLabelValues(model.PerfKindMCQ).Inc()
	correct := in.UserIndex == in.CorrectIndex
	local := MCQGrade{Correct: correct, Score: boolScore(correct)}
	if correct {
		local.Rationale = "Correct. (Local check: matches the expected answer.)"
	} else {
		local.Rationale = fmt.Sprintf("Incorrect. (Local check: expected option %d.)", in.CorrectIndex+1)
	}
	if !s.llmClient.Enabled() {
		return local
	}

	var opts strings.Builder
	for i, o := range in.Options {
		fmt.Fprintf(&opts, "%d. %s\n", i, o)
	}
	prompt := fmt.Sprintf("You are grading a multiple-choice question.\n\nQuestion: %s\n\nOptions (0-indexed):\n%s\n"+
		"Expected correctIndex: %d\nUser userIndex: %d\n\nRules:\n"+
		"- \"correct\" MUST be true iff userIndex === correctIndex.\n"+
		"- \"score\" can reflect reasoning quality (1 for correct, else <= 0.4).\n"+
		"- \"rationale\" 1-3 concise sentences.", in.Question, opts.String(), in.CorrectIndex, in.UserIndex)
	out, err := s.llmClient.CompleteJSON(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, &llm.GenerationParams{Temperature: llm.Float(0)}, llm.JSONSchema{Name: "mcq_grade", Schema: mcqGradeSchema})
	if err != nil {
		log.Warnf("[PracticeService] 选择题评分调用失败, 使用本地结果: %v", err)
		return local
	}
	var graded struct {
		Score     *float64 `json:"score"`
		Rationale string   `json:"rationale"`
	}
	if !llm.DecodeJSON(out, &graded) {
		return local
	}
	res := local
	if graded.Score != nil {
		res.Score = clampFloat(*graded.Score, 0, 1)
	}
	if strings.TrimSpace(graded.Rationale) != "" {
		res.Rationale = graded.Rationale
	}
	return res
}

func (s *practiceService) GradeText(ctx context.Context, in TextAnswer) TextGrade {
	defer metrics.PracticeGrades.WithLabelValues(model.PerfKindText).Inc()
	if !s.llmClient.Enabled() {
		n := utf8.RuneCountInString(strings.TrimSpace(in.UserAnswer))
		score := 0.2
		switch {
		case n > 40:
			score = 0.6
		case n > 15:
			score = 0.4
		}
		return TextGrade{
			Score:    score,
			Verdict:  verdictFor(score),
			Feedback: "Local heuristic: answer length-based stub. Configure an LLM API key to enable model grading.",
		}
	}

	var ctxBlock string
	if strings.TrimSpace(in.Context) != "" {
		ctxBlock = "Context:\n" + in.Context + "\n\n"
	}
	prompt := fmt.Sprintf("You grade short answers. Return score (0..1), verdict (\"PASS\" or \"REVISE\") and feedback (2-4 concise sentences).\n\n"+
		"Task/Prompt:\n%s\n\n%sUser's Answer:\n%s\n\nScoring guide:\n"+
		"- 0.9–1.0: fully correct, clear, complete.\n- 0.7–0.89: mostly correct, minor gaps.\n"+
		"- 0.4–0.69: partially correct; important gaps.\n- <0.4: weak or incorrect.", in.Prompt, ctxBlock, in.UserAnswer)
	out, err := s.llmClient.CompleteJSON(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, &llm.GenerationParams{Temperature: llm.Float(0)}, llm.JSONSchema{Name: "text_grade", Schema: textGradeSchema})
	if err != nil {
		log.Warnf("[PracticeService] 简答题评分调用失败: %v", err)
		return TextGrade{Score: 0.5, Verdict: VerdictRevise, Feedback: err.Error()}
	}
	var graded struct {
		Score    *float64 `json:"score"`
		Verdict  string   `json:"verdict"`
		Feedback string   `json:"feedback"`
	}
	if !llm.DecodeJSON(out, &graded) {
		return TextGrade{Score: 0.5, Verdict: VerdictRevise, Feedback: "Autograde fallback."}
	}
	score := 0.5
	if graded.Score != nil {
		score = clampFloat(*graded.Score, 0, 1)
	}
	verdict := strings.ToUpper(strings.TrimSpace(graded.Verdict))
	if verdict != VerdictPass && verdict != VerdictRevise {
		verdict = verdictFor(score)
	}
	feedback := graded.Feedback
	if strings.TrimSpace(feedback) == "" {
		feedback = "Keep refining your answer."
	}
	return TextGrade{Score: score, Verdict: verdict, Feedback: feedback}
}

func (s *practiceService) SuggestDifficulty(accuracy float64) string {
	switch {
	case accuracy < s.cfg.ThresholdOK:
		return DifficultyEasier
	case accuracy >= s.cfg.ThresholdHarder:
		return DifficultyHarder
	default:
		return DifficultySame
	}
}

// SubmitBatch 评分整批作答，每道题追加一条成绩记录到聊天。
func (s *practiceService) SubmitBatch(ctx context.Context, userID uint, in SubmitInput) (*BatchResult, error) {
	override := strings.ToLower(strings.TrimSpace(in.Override))
	switch override {
	case "", DifficultyAuto, DifficultyEasier, DifficultySame, DifficultyHarder:
	default:
		return nil, fmt.Errorf("%w: override %q", ErrInvalidInput, in.Override)
	}
	total := len(in.MCQs) + len(in.Texts)
	if total == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidInput)
	}
	if in.ChatID != "" {
		if _, err := s.chatService.GetChat(ctx, userID, in.ChatID); err != nil {
			return nil, err
		}
	}

	res := &BatchResult{MCQ: make([]MCQGrade, 0, len(in.MCQs)), Text: make([]TextGrade, 0, len(in.Texts))}
	entries := make([]model.PerfEntry, 0, total)
	var sum float64
	ts := nowMillis()
	for _, a := range in.MCQs {
		g := s.GradeMCQ(ctx, a)
		res.MCQ = append(res.MCQ, g)
		acc := boolScore(g.Correct)
		sum += acc
		picked, expected := a.UserIndex, a.CorrectIndex
		entries = append(entries, model.PerfEntry{
			TS: ts, Kind: model.PerfKindMCQ, Question: a.Question, Accuracy: acc,
			Details: &model.PerfDetails{PickedIndex: &picked, CorrectIndex: &expected, Rationale: g.Rationale},
		})
	}
	for _, a := range in.Texts {
		g := s.GradeText(ctx, a)
		res.Text = append(res.Text, g)
		sum += g.Score
		entries = append(entries, model.PerfEntry{
			TS: ts, Kind: model.PerfKindText, Question: a.Prompt, Accuracy: g.Score,
			Details: &model.PerfDetails{Rationale: g.Feedback},
		})
	}

	res.Accuracy = sum / float64(total)
	res.Suggestion = s.SuggestDifficulty(res.Accuracy)
	res.NextDifficulty = res.Suggestion
	if override != "" && override != DifficultyAuto {
		res.NextDifficulty = override
	}

	if in.ChatID != "" {
		n, err := s.chatService.RecordPerformance(ctx, userID, in.ChatID, entries)
		if err != nil {
			return nil, fmt.Errorf("保存成绩失败: %w", err)
		}
		res.Recorded = n
	}
	log.Infof("[PracticeService] 批量评分完成, userID: %d, items: %d, accuracy: %.2f, next: %s", userID, total, res.Accuracy, res.NextDifficulty)
	return res, nil
}

func verdictFor(score float64) string {
	if score >= textPassScore {
		return VerdictPass
	}
	return VerdictRevise
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
