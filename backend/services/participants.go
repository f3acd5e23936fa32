package services

import (
	"log"
	"sort"

	"openexam/backend/models"

	"gorm.io/gorm"
)

// ParticipantService manages an exam's participant list, which is a union
// of directly assigned users and the members of assigned groups. For
// random_individual exams a participant change after publish is mirrored
// into the pre-generated paper table: papers are generated for newcomers
// and removed for departed users who never started their attempt.
type ParticipantService struct {
	DB     *gorm.DB
	Logger *log.Logger
	Papers *PaperService
}

func NewParticipantService(db *gorm.DB, logger *log.Logger, papers *PaperService) *ParticipantService {
	return &ParticipantService{DB: db, Logger: logger, Papers: papers}
}

// resolveParticipantUserIDs returns the deduplicated user ids covered by an
// exam's participant rows, sorted ascending.
func resolveParticipantUserIDs(tx *gorm.DB, examID uint) ([]uint, error) {
	var rows []models.ExamParticipant
	if err := tx.Where("exam_id = ?", examID).Find(&rows).Error; err != nil {
		return nil, err
	}

	seen := make(map[uint]bool)
	var groupIDs []uint
	for _, row := range rows {
		if row.UserID != nil {
			seen[*row.UserID] = true
		}
		if row.GroupID != nil {
			groupIDs = append(groupIDs, *row.GroupID)
		}
	}
	if len(groupIDs) > 0 {
		var memberIDs []uint
		err := tx.Table("user_groups").
			Where("group_id IN ?", groupIDs).
			Distinct("user_id").
			Pluck("user_id", &memberIDs).Error
		if err != nil {
			return nil, err
		}
		for _, id := range memberIDs {
			seen[id] = true
		}
	}

	out := make([]uint, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ResolveUserIDs is the exported form of the resolver, run outside any
// caller transaction.
func (s *ParticipantService) ResolveUserIDs(examID uint) ([]uint, error) {
	return resolveParticipantUserIDs(s.DB, examID)
}

// IsParticipant reports whether the user is covered by the exam's
// participant list, directly or through a group.
func (s *ParticipantService) IsParticipant(examID, userID uint) (bool, error) {
	ids, err := resolveParticipantUserIDs(s.DB, examID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// diffUserIDs returns the ids present in next but not prev, and the ids
// present in prev but not next.
func diffUserIDs(prev, next []uint) (added, removed []uint) {
	inPrev := make(map[uint]bool, len(prev))
	for _, id := range prev {
		inPrev[id] = true
	}
	inNext := make(map[uint]bool, len(next))
	for _, id := range next {
		inNext[id] = true
	}
	for _, id := range next {
		if !inPrev[id] {
			added = append(added, id)
		}
	}
	for _, id := range prev {
		if !inNext[id] {
			removed = append(removed, id)
		}
	}
	return added, removed
}

// SyncParticipants replaces the exam's participant rows with the given
// users and groups. For a published random_individual exam the resolved
// user set is diffed and individual papers are kept in step with it.
func (s *ParticipantService) SyncParticipants(examID uint, userIDs, groupIDs []uint) ([]UserPaperFailure, error) {
	var failures []UserPaperFailure

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var exam models.Exam
		if err := tx.First(&exam, examID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return notFound("exam", examID)
			}
			return err
		}

		var userCount int64
		if len(userIDs) > 0 {
			if err := tx.Model(&models.User{}).Where("id IN ?", userIDs).Count(&userCount).Error; err != nil {
				return err
			}
			if int(userCount) != len(uniqueUintSet(userIDs)) {
				return validationErrorf("participant list references unknown users")
			}
		}
		var groupCount int64
		if len(groupIDs) > 0 {
			if err := tx.Model(&models.Group{}).Where("id IN ?", groupIDs).Count(&groupCount).Error; err != nil {
				return err
			}
			if int(groupCount) != len(uniqueUintSet(groupIDs)) {
				return validationErrorf("participant list references unknown groups")
			}
		}

		prev, err := resolveParticipantUserIDs(tx, examID)
		if err != nil {
			return err
		}

		if err := tx.Where("exam_id = ?", examID).Delete(&models.ExamParticipant{}).Error; err != nil {
			return err
		}
		var rows []models.ExamParticipant
		for _, id := range uniqueUintSet(userIDs) {
			uid := id
			rows = append(rows, models.ExamParticipant{ExamID: examID, UserID: &uid})
		}
		for _, id := range uniqueUintSet(groupIDs) {
			gid := id
			rows = append(rows, models.ExamParticipant{ExamID: examID, GroupID: &gid})
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}

		if exam.PaperGenerationMode != models.ModeRandomIndividual || exam.Status == models.ExamDraft {
			return nil
		}

		next, err := resolveParticipantUserIDs(tx, examID)
		if err != nil {
			return err
		}
		added, removed := diffUserIDs(prev, next)

		if len(added) > 0 {
			failures, err = s.Papers.GenerateForUsers(tx, &exam, added)
			if err != nil {
				return err
			}
		}
		for _, userID := range removed {
			var started int64
			err := tx.Model(&models.ExamAttempt{}).
				Where("exam_id = ? AND user_id = ? AND status <> ?", examID, userID, models.AttemptPending).
				Count(&started).Error
			if err != nil {
				return err
			}
			if started > 0 {
				s.Logger.Printf("keeping paper for removed user %d on exam %d, attempt already started", userID, examID)
				continue
			}
			err = tx.Where("exam_id = ? AND user_id = ?", examID, userID).
				Delete(&models.PreGeneratedPaper{}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return failures, nil
}

func uniqueUintSet(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
