package models

import "gorm.io/gorm"

// AutoMigrate creates or updates every table the platform uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Group{},
		&Role{},
		&Permission{},
		&QuestionLib{},
		&Chapter{},
		&Question{},
		&Exam{},
		&ExamQuestion{},
		&ExamParticipant{},
		&PreGeneratedPaper{},
		&ExamAttempt{},
		&Answer{},
	)
}
