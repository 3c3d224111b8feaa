package registry

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opCreateForum = "registry.create_forum"
	opUpdateForum = "registry.update_forum"
	opDeleteForum = "registry.delete_forum"
	opGetForum    = "registry.get_forum"
	opListForums  = "registry.list_forums"

	reasonInvalidName   = "invalid_name"
	reasonForumNotFound = "forum_not_found"
)

// CreateForum allocates a new forum. Operator only.
func (s *Service) CreateForum(ctx context.Context, caller Account, name, iconCID string) (Forum, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Forum{}, s.reject(opCreateForum, reasonInvalidName, ErrInvalidInput)
	}
	iconCID = strings.TrimSpace(iconCID)

	var created Forum
	err := s.mutate(ctx, opCreateForum, func(tx *gorm.DB, _ TokenLedger) ([]Event, error) {
		if err := s.authorizeOperator(tx, opCreateForum, caller); err != nil {
			return nil, err
		}
		forumID, err := nextID(tx, sequenceForums)
		if err != nil {
			return nil, s.fail(opCreateForum, reasonSequenceFailed, err)
		}
		now := s.now()
		created = Forum{
			ID:               forumID,
			Name:             name,
			IconCID:          iconCID,
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		}
		if err := tx.Create(&created).Error; err != nil {
			return nil, s.fail(opCreateForum, reasonInsertFailed, err, zap.Int64("forum_id", forumID))
		}
		return nil, nil
	})
	if err != nil {
		return Forum{}, err
	}
	return created, nil
}

// UpdateForum renames and re-icons a forum in place. Operator only.
func (s *Service) UpdateForum(ctx context.Context, caller Account, forumID int64, name, iconCID string) (Forum, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Forum{}, s.reject(opUpdateForum, reasonInvalidName, ErrInvalidInput)
	}
	iconCID = strings.TrimSpace(iconCID)

	var updated Forum
	err := s.mutate(ctx, opUpdateForum, func(tx *gorm.DB, _ TokenLedger) ([]Event, error) {
		if err := s.authorizeOperator(tx, opUpdateForum, caller); err != nil {
			return nil, err
		}
		forum, err := s.lockForum(tx, opUpdateForum, forumID)
		if err != nil {
			return nil, err
		}
		forum.Name = name
		forum.IconCID = iconCID
		forum.UpdatedAtSeconds = s.now()
		err = tx.Model(&Forum{}).
			Where("forum_id = ?", forumID).
			Updates(map[string]any{
				"name":         forum.Name,
				"icon_cid":     forum.IconCID,
				"updated_at_s": forum.UpdatedAtSeconds,
			}).Error
		if err != nil {
			return nil, s.fail(opUpdateForum, reasonUpdateFailed, err, zap.Int64("forum_id", forumID))
		}
		updated = forum
		return nil, nil
	})
	if err != nil {
		return Forum{}, err
	}
	return updated, nil
}

// DeleteForum soft-deletes a forum. Its questions stay readable and resolvable. Operator only.
func (s *Service) DeleteForum(ctx context.Context, caller Account, forumID int64) error {
	return s.mutate(ctx, opDeleteForum, func(tx *gorm.DB, _ TokenLedger) ([]Event, error) {
		if err := s.authorizeOperator(tx, opDeleteForum, caller); err != nil {
			return nil, err
		}
		if _, err := s.lockForum(tx, opDeleteForum, forumID); err != nil {
			return nil, err
		}
		err := tx.Model(&Forum{}).
			Where("forum_id = ?", forumID).
			Updates(map[string]any{"is_deleted": true, "updated_at_s": s.now()}).Error
		if err != nil {
			return nil, s.fail(opDeleteForum, reasonUpdateFailed, err, zap.Int64("forum_id", forumID))
		}
		return nil, nil
	})
}

// GetForum returns a forum, deleted or not.
func (s *Service) GetForum(ctx context.Context, forumID int64) (Forum, error) {
	if s.db == nil {
		return Forum{}, newServiceError(opGetForum, reasonMissingDB, errMissingDatabase)
	}
	var forum Forum
	err := s.db.WithContext(ctx).Where("forum_id = ?", forumID).Take(&forum).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Forum{}, newServiceError(opGetForum, reasonForumNotFound, ErrNotFound)
	}
	if err != nil {
		return Forum{}, s.fail(opGetForum, reasonQueryFailed, err, zap.Int64("forum_id", forumID))
	}
	return forum, nil
}

// GetForums pages through all forums, including soft-deleted ones.
func (s *Service) GetForums(ctx context.Context, request PageRequest) (Page[Forum], error) {
	if s.db == nil {
		return Page[Forum]{}, newServiceError(opListForums, reasonMissingDB, errMissingDatabase)
	}
	page, err := paginate[Forum](ctx, s.db, "forum_id", noFilter, request)
	if err != nil {
		return Page[Forum]{}, s.fail(opListForums, reasonQueryFailed, err)
	}
	return page, nil
}

func (s *Service) lockForum(tx *gorm.DB, operation string, forumID int64) (Forum, error) {
	var forum Forum
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("forum_id = ?", forumID).Take(&forum).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Forum{}, s.reject(operation, reasonForumNotFound, ErrNotFound, zap.Int64("forum_id", forumID))
	}
	if err != nil {
		return Forum{}, s.fail(operation, reasonQueryFailed, err, zap.Int64("forum_id", forumID))
	}
	return forum, nil
}
