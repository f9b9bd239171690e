package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/fabfab/visacoach/index"
	"github.com/fabfab/visacoach/llm"
)

const promptInstruction = "Use the following pieces of context to answer the question at the end. " +
	"If you don't know the answer, just say that you don't know, don't try to make up an answer."

type Service struct {
	retriever *Retriever
	graph     GraphStore
	llm       llm.Client
	logger    *log.Logger
}

// NewService wires retrieval and generation. graph may be nil, in which case
// citations carry no insight.
func NewService(retriever *Retriever, graph GraphStore, llmClient llm.Client, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		retriever: retriever,
		graph:     graph,
		llm:       llmClient,
		logger:    logger,
	}
}

// Search returns the chunks most similar to query without generating an
// answer.
func (s *Service) Search(ctx context.Context, query string) ([]index.Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if s.retriever == nil {
		return nil, fmt.Errorf("retriever not configured")
	}
	return s.retriever.Retrieve(ctx, query)
}

// Ask moves a session one step forward. A vague question without a
// clarification comes back with NeedsClarification set and nothing retrieved;
// otherwise the resolved question is answered.
func (s *Service) Ask(ctx context.Context, sess Session) (Session, error) {
	return s.ask(ctx, sess, nil)
}

// AskStream is Ask with the answer delivered to fn as it is generated.
func (s *Service) AskStream(ctx context.Context, sess Session, fn func(string) error) (Session, error) {
	return s.ask(ctx, sess, fn)
}

func (s *Service) ask(ctx context.Context, sess Session, streamFn func(string) error) (Session, error) {
	sess.OriginalQuery = strings.TrimSpace(sess.OriginalQuery)
	if sess.OriginalQuery == "" {
		return sess, ErrEmptyQuery
	}

	if strings.TrimSpace(sess.Clarification) == "" && IsVague(sess.OriginalQuery) {
		sess.NeedsClarification = true
		sess.ResolvedQuery = ""
		return sess, nil
	}

	sess.NeedsClarification = false
	sess.ResolvedQuery = MergeClarification(sess.OriginalQuery, sess.Clarification)

	hits, err := s.Search(ctx, sess.ResolvedQuery)
	if err != nil {
		return sess, err
	}

	answer, err := s.answer(ctx, sess.ResolvedQuery, hits, streamFn)
	if err != nil {
		return sess, err
	}

	sess.Answer = answer.Text
	sess.Sources = answer.Sources
	sess.Citations = answer.Citations
	return sess, nil
}

// Answer asks the model to answer query from hits. An empty hit list still
// produces a prompt, with no context.
func (s *Service) Answer(ctx context.Context, query string, hits []index.Hit) (Answer, error) {
	return s.answer(ctx, query, hits, nil)
}

// AnswerStream is Answer with the text delivered to fn as it is generated.
// When the client cannot stream, fn receives the full answer once.
func (s *Service) AnswerStream(ctx context.Context, query string, hits []index.Hit, fn func(string) error) (Answer, error) {
	return s.answer(ctx, query, hits, fn)
}

func (s *Service) answer(ctx context.Context, query string, hits []index.Hit, streamFn func(string) error) (Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Answer{}, ErrEmptyQuery
	}
	if s.llm == nil {
		return Answer{}, fmt.Errorf("llm client is not configured")
	}

	if len(hits) == 0 {
		s.logger.Printf("no context retrieved for question, asking the model anyway")
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: BuildPrompt(query, hits)}}

	var text string
	if streamFn != nil {
		if streamClient, ok := s.llm.(llm.StreamClient); ok {
			var builder strings.Builder
			streamErr := streamClient.GenerateStream(ctx, messages, func(chunk string) error {
				if chunk == "" {
					return nil
				}
				builder.WriteString(chunk)
				return streamFn(chunk)
			})
			if streamErr != nil {
				return Answer{}, &GenerationError{Err: streamErr}
			}
			text = builder.String()
		} else {
			generated, genErr := s.llm.Generate(ctx, messages)
			if genErr != nil {
				return Answer{}, &GenerationError{Err: genErr}
			}
			text = generated
			if err := streamFn(text); err != nil {
				return Answer{}, err
			}
		}
	} else {
		generated, genErr := s.llm.Generate(ctx, messages)
		if genErr != nil {
			return Answer{}, &GenerationError{Err: genErr}
		}
		text = generated
	}

	citations := s.citations(ctx, hits)
	sources := make([]string, len(citations))
	for i := range citations {
		sources[i] = citations[i].Source
	}

	return Answer{
		Text:      text,
		Sources:   sources,
		Citations: citations,
		Hits:      hits,
	}, nil
}

// BuildPrompt places the chunk texts, in rank order, between the instruction
// and the question.
func BuildPrompt(query string, hits []index.Hit) string {
	texts := make([]string, len(hits))
	for i := range hits {
		texts[i] = hits[i].Chunk.Text
	}

	var sb strings.Builder
	sb.WriteString(promptInstruction)
	sb.WriteString("\n\n")
	sb.WriteString(strings.Join(texts, "\n\n"))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(query)
	sb.WriteString("\nHelpful Answer:")
	return sb.String()
}

// UniqueSources lists the source of each hit once, in first-seen order.
func UniqueSources(hits []index.Hit) []string {
	values := make([]string, len(hits))
	for i := range hits {
		values[i] = hits[i].Chunk.Source
	}
	return unique(values)
}

func (s *Service) citations(ctx context.Context, hits []index.Hit) []Citation {
	ids := UniqueSources(hits)
	if len(ids) == 0 {
		return nil
	}

	insights := map[string]SourceInsight{}
	if s.graph != nil {
		found, err := s.graph.SourceInsights(ctx, ids)
		if err != nil {
			s.logger.Printf("graph insights error: %v", err)
		} else {
			insights = found
		}
	}

	pos := make(map[string]int, len(ids))
	citations := make([]Citation, 0, len(ids))
	for _, hit := range hits {
		i, ok := pos[hit.Chunk.Source]
		if !ok {
			pos[hit.Chunk.Source] = len(citations)
			citations = append(citations, Citation{Source: hit.Chunk.Source, Title: hit.Chunk.Title, Score: hit.Score})
			continue
		}
		if citations[i].Title == "" {
			citations[i].Title = hit.Chunk.Title
		}
		if hit.Score > citations[i].Score {
			citations[i].Score = hit.Score
		}
	}
	for i := range citations {
		if insight, ok := insights[citations[i].Source]; ok {
			citations[i].Insight = &insight
		}
	}
	return citations
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
