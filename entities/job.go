package entities

import (
	"time"
	"transcribe-api/constant"
)

type Job struct {
	ID                 uint               `json:"id" gorm:"primaryKey;autoIncrement"`
	Filename           string             `json:"filename" gorm:"type:varchar(255);not null;index"`
	Status             constant.JobStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	Language           string             `json:"-" gorm:"type:varchar(16);not null;default:'auto'"`
	AudioPath          string             `json:"-" gorm:"type:varchar(500);not null"`
	MediaType          string             `json:"-" gorm:"type:varchar(100)"`
	TranscriptText     *string            `json:"transcript_text" gorm:"type:text"`
	TranscriptFilePath *string            `json:"transcript_file_path" gorm:"type:varchar(500)"`
	CreatedAt          time.Time          `json:"created_at" gorm:"not null;index"`
	UpdatedAt          *time.Time         `json:"updated_at" gorm:"autoUpdateTime:false"`
}

func (Job) TableName() string {
	return "transcription_jobs"
}
