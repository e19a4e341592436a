package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskline/internal/domain"
	"taskline/internal/engine/access"
	"taskline/internal/events"
)

const maxCommentLength = 1000

func (e Engine) ListComments(ctx context.Context, taskID, userID int64) ([]domain.Comment, error) {
	ok, err := e.Access.CanAccess(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, access.AccessError{TaskID: taskID, UserID: userID}
	}
	comments, err := e.Repo.ListComments(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []domain.Comment{}
	}
	return comments, nil
}

// AddComment records a comment by any user with access to the task. fileName
// is an optional label for a file mentioned alongside the comment.
func (e Engine) AddComment(ctx context.Context, taskID, userID int64, text, fileName string) (domain.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Comment{}, errors.New("comment is required")
	}
	if len(text) > maxCommentLength {
		return domain.Comment{}, fmt.Errorf("comment must be %d characters or fewer", maxCommentLength)
	}
	ok, err := e.Access.CanAccess(ctx, taskID, userID)
	if err != nil {
		return domain.Comment{}, err
	}
	if !ok {
		return domain.Comment{}, access.AccessError{TaskID: taskID, UserID: userID}
	}
	c := domain.Comment{
		TaskID:    taskID,
		UserID:    userID,
		Comment:   text,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if fileName != "" {
		c.FileName = &fileName
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertComment(ctx, tx, c)
	if err != nil {
		return c, fmt.Errorf("insert comment: %w", err)
	}
	c.ID = id
	if err := e.Events.Append(ctx, tx, "comment.added", taskID, userID, events.EventPayload{"comment_id": id}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}
