package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codescribe/backend/models"
	"github.com/codescribe/backend/repository"
)

type CreateInterviewRequest struct {
	RepoName            string `json:"repoName"`
	FileContext         string `json:"fileContext"`
	ArchitectureContext string `json:"architectureContext"`
}

// InterviewSession is the token bundle handed to the browser.
type InterviewSession struct {
	RealtimeSession
	InterviewID string `json:"interviewId"`
}

type FeedbackRequest struct {
	Transcript  []string `json:"transcript"`
	RepoName    string   `json:"repoName"`
	InterviewID string   `json:"interviewId,omitempty"`
}

const interviewInstructionTemplate = `You are a senior engineer interviewing a candidate about the repository %s, which they claim to have built.
Ask one question at a time about its design decisions, trade-offs, failure modes and how they would extend it.
Keep questions grounded in the material below and follow up on vague answers.

Architecture:
%s

File analyses:
%s`

const feedbackInstruction = `You are an interview coach reviewing a technical interview about a software repository.
Write structured markdown feedback with the sections Summary, Strengths, Areas to Improve and Suggested Next Steps.
Base every point on what the candidate actually said in the transcript.`

// InterviewService provisions realtime interview sessions and turns their
// transcripts into feedback.
type InterviewService struct {
	repo     *repository.GORMRepository
	ledger   *CreditLedger
	resolver *RepositoryResolver
	tokens   TokenIssuer
	llm      TextGenerator
	now      func() time.Time
}

func NewInterviewService(repo *repository.GORMRepository, ledger *CreditLedger, tokens TokenIssuer, llm TextGenerator) *InterviewService {
	return &InterviewService{
		repo:     repo,
		ledger:   ledger,
		resolver: NewRepositoryResolver(repo),
		tokens:   tokens,
		llm:      llm,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession starts an interview. userID is nil for anonymous callers,
// who are not credit gated. The interview credit is consumed only once a
// token has been issued.
func (s *InterviewService) CreateSession(ctx context.Context, userID *string, req CreateInterviewRequest) (*InterviewSession, error) {
	if strings.TrimSpace(req.RepoName) == "" {
		return nil, ErrRepositoryRequired
	}
	if s.tokens == nil {
		return nil, ErrServiceUnavailable
	}
	if userID != nil {
		if err := s.ledger.RequireCredits(ctx, *userID, CreditTypeInterview); err != nil {
			return nil, err
		}
	}

	stored, ref, err := s.resolver.Upsert(ctx, req.RepoName)
	if err != nil {
		return nil, err
	}

	interview := &models.Interview{
		UserID:              userID,
		RepositoryID:        stored.ID,
		Status:              models.InterviewStatusActive,
		FileContext:         req.FileContext,
		ArchitectureContext: req.ArchitectureContext,
		StartedAt:           s.now(),
	}
	if err := s.repo.CreateInterview(ctx, interview); err != nil {
		return nil, err
	}

	instructions := fmt.Sprintf(interviewInstructionTemplate, ref.FullName(),
		req.ArchitectureContext, truncateContent(req.FileContext, MaxAnalysisChars*4))
	session, err := s.tokens.CreateSession(ctx, instructions)
	if err != nil {
		slog.Error("Failed to provision interview token", "interview_id", interview.ID, "error", err)
		if ferr := s.repo.FinishInterview(ctx, interview.ID, models.InterviewStatusFailed, s.now(), 0); ferr != nil {
			slog.Error("Failed to mark interview failed", "interview_id", interview.ID, "error", ferr)
		}
		return nil, fmt.Errorf("failed to create realtime session: %w", err)
	}

	if userID != nil {
		if err := s.ledger.ConsumeCredit(ctx, *userID, CreditTypeInterview); err != nil {
			if ferr := s.repo.FinishInterview(ctx, interview.ID, models.InterviewStatusFailed, s.now(), 0); ferr != nil {
				slog.Error("Failed to mark interview failed", "interview_id", interview.ID, "error", ferr)
			}
			return nil, err
		}
	}

	slog.Info("Interview session created", "interview_id", interview.ID, "repo", ref.FullName(), "anonymous", userID == nil)
	return &InterviewSession{RealtimeSession: *session, InterviewID: interview.ID}, nil
}

// GetInterview returns an interview visible to userID. Anonymous interviews
// are visible to everyone holding their id.
func (s *InterviewService) GetInterview(ctx context.Context, userID *string, interviewID string) (*models.Interview, error) {
	interview, err := s.repo.GetInterview(ctx, interviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to get interview: %w", err)
	}
	if interview == nil {
		return nil, ErrInterviewNotFound
	}
	if interview.UserID != nil && (userID == nil || *interview.UserID != *userID) {
		return nil, ErrInterviewNotFound
	}
	return interview, nil
}

// Complete marks an interview finished with its client-measured duration.
func (s *InterviewService) Complete(ctx context.Context, userID *string, interviewID string, durationSeconds int) (*models.Interview, error) {
	interview, err := s.GetInterview(ctx, userID, interviewID)
	if err != nil {
		return nil, err
	}
	if interview.Status == models.InterviewStatusActive {
		if durationSeconds <= 0 {
			durationSeconds = int(s.now().Sub(interview.StartedAt).Seconds())
		}
		if err := s.repo.FinishInterview(ctx, interview.ID, models.InterviewStatusCompleted, s.now(), durationSeconds); err != nil {
			return nil, err
		}
	}
	return s.repo.GetInterview(ctx, interview.ID)
}

// RecordTranscript appends a relayed transcript line.
func (s *InterviewService) RecordTranscript(ctx context.Context, interviewID, speaker, content string) (*models.InterviewTranscript, error) {
	if speaker != "user" && speaker != "assistant" {
		return nil, fmt.Errorf("unknown speaker %q", speaker)
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrTranscriptRequired
	}
	line := &models.InterviewTranscript{InterviewID: interviewID, Speaker: speaker, Content: content}
	if err := s.repo.AppendTranscript(ctx, line); err != nil {
		return nil, err
	}
	return line, nil
}

// GenerateFeedback makes a single model call over the transcript. With an
// interview id the stored transcript fills in a missing one and the result
// is saved against the interview.
func (s *InterviewService) GenerateFeedback(ctx context.Context, userID *string, req FeedbackRequest) (string, error) {
	if s.llm == nil {
		return "", ErrServiceUnavailable
	}

	var interview *models.Interview
	lines := req.Transcript
	if req.InterviewID != "" {
		i, err := s.GetInterview(ctx, userID, req.InterviewID)
		if err != nil {
			return "", err
		}
		interview = i
		if len(lines) == 0 {
			stored, err := s.repo.GetTranscripts(ctx, i.ID)
			if err != nil {
				return "", err
			}
			for _, t := range stored {
				lines = append(lines, t.Speaker+": "+t.Content)
			}
		}
	}
	if len(lines) == 0 {
		return "", ErrTranscriptRequired
	}

	repoName := req.RepoName
	if repoName == "" && interview != nil {
		repoName = interview.Repository.Owner + "/" + interview.Repository.Name
	}
	prompt := fmt.Sprintf("Repository: %s\n\nTranscript:\n%s", repoName, strings.Join(lines, "\n"))
	feedback, err := s.llm.GenerateText(ctx, feedbackInstruction, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate feedback: %w", err)
	}

	if interview != nil {
		if err := s.repo.SaveFeedback(ctx, &models.Feedback{InterviewID: interview.ID, Content: feedback}); err != nil {
			return "", err
		}
		if interview.Status == models.InterviewStatusActive {
			duration := int(s.now().Sub(interview.StartedAt).Seconds())
			if err := s.repo.FinishInterview(ctx, interview.ID, models.InterviewStatusCompleted, s.now(), duration); err != nil {
				return "", err
			}
		}
	}
	return feedback, nil
}
