// Package model содержит доменные сущности портала кредитного сервиса.
package model

import (
	"time"

	"github.com/google/uuid"
)

// User представляет зарегистрированного клиента портала.
type User struct {
	ID           int64
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Profile содержит контактные данные клиента. SSN хранится только в маскированном
// виде (последние 4 цифры), полное значение в эту запись не попадает.
type Profile struct {
	UserID         int64
	FullName       string
	Phone          string
	SSNLast4       string
	ConsentGivenAt *time.Time
	EmailVerified  bool
	PhoneVerified  bool
	UpdatedAt      time.Time
}

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleClient  Role = "client"
	RoleAdmin   Role = "admin"
	RoleAgent   Role = "agent"
	RoleAuditor Role = "auditor"
)

// PaymentStatus описывает статус платежа.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// PlanType описывает тип тарифа, под который оформлен платёж.
type PlanType string

const (
	PlanTypeBasic      PlanType = "basic"
	PlanTypePremium    PlanType = "premium"
	PlanTypeEnterprise PlanType = "enterprise"
)

// Payment описывает одну транзакцию платёжной системы. Запись неизменяемая:
// на один stripe session id приходится ровно одна строка.
type Payment struct {
	ID              uuid.UUID
	UserID          *int64
	CaseID          *uuid.UUID
	AmountCents     int64
	Currency        string
	Status          PaymentStatus
	Plan            PlanType
	StripeSessionID string
	StripeProductID string
	StripePriceID   string
	PaidAt          *time.Time
	Metadata        map[string]string
	CreatedAt       time.Time
}

// CaseStatus описывает статус дела клиента.
type CaseStatus string

const (
	CaseStatusNotStarted         CaseStatus = "not_started"
	CaseStatusFilesNeeded        CaseStatus = "files_needed"
	CaseStatusUnderReview        CaseStatus = "under_review"
	CaseStatusInProgress         CaseStatus = "in_progress"
	CaseStatusCompleted          CaseStatus = "completed"
	CaseStatusRefunded           CaseStatus = "refunded"
	CaseStatusGuaranteeTriggered CaseStatus = "guarantee_triggered"
)

// ActiveCaseStatuses перечисляет статусы, при которых дело считается активным.
// Инвариант: у пользователя не более одного дела в активном статусе.
var ActiveCaseStatuses = []CaseStatus{
	CaseStatusNotStarted,
	CaseStatusFilesNeeded,
	CaseStatusUnderReview,
	CaseStatusInProgress,
}

// CaseStage описывает этап обработки дела.
type CaseStage string

const (
	CaseStageReviewingDocs    CaseStage = "reviewing_docs"
	CaseStageDraftingDisputes CaseStage = "drafting_disputes"
	CaseStageSubmitted        CaseStage = "submitted"
	CaseStageProcessing48hr   CaseStage = "processing_48hr"
	CaseStageComplete         CaseStage = "complete"
)

// Case представляет одно активное обращение клиента за услугой.
type Case struct {
	ID              uuid.UUID
	UserID          int64
	Status          CaseStatus
	CurrentStage    CaseStage
	ServiceName     string
	AssignedAgentID *int64
	Notes           string
	StartedAt       time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
}

// TimerStatus описывает статус гарантийного таймера.
type TimerStatus string

const (
	TimerStatusRunning   TimerStatus = "running"
	TimerStatusCompleted TimerStatus = "completed"
	TimerStatusTriggered TimerStatus = "triggered"
	TimerStatusCanceled  TimerStatus = "canceled"
)

// GuaranteeTimer представляет SLA-отсчёт, привязанный к делу (1:1).
// Дедлайн фиксируется при создании и меняется только при pause/resume.
type GuaranteeTimer struct {
	ID             uuid.UUID
	CaseID         uuid.UUID
	Status         TimerStatus
	StartAt        time.Time
	DeadlineAt     time.Time
	PausedAt       *time.Time
	PauseReason    string
	RefundEligible bool
	WarningSentAt  *time.Time
	CreatedAt      time.Time
}

// DocumentType описывает тип загружаемого документа.
type DocumentType string

const (
	DocumentTypeIDFront           DocumentType = "id_front"
	DocumentTypeIDBack            DocumentType = "id_back"
	DocumentTypeSSCard            DocumentType = "ss_card"
	DocumentTypeProofAddress      DocumentType = "proof_address"
	DocumentTypeAuthorizationForm DocumentType = "authorization_form"
	DocumentTypeCreditorStatement DocumentType = "creditor_statement"
	DocumentTypePayoffLetter      DocumentType = "payoff_letter"
)

// Document содержит метаданные загруженного документа. Содержимое файла живёт
// во внешнем хранилище, здесь только путь и контрольная сумма.
type Document struct {
	ID                 uuid.UUID
	CaseID             uuid.UUID
	UserID             int64
	Type               DocumentType
	FilePath           string
	FileSize           int64
	ContentType        string
	Checksum           string
	VerificationStatus string
	UploadedAt         time.Time
}

// Message представляет сообщение между клиентом и сотрудником.
type Message struct {
	ID             uuid.UUID
	CaseID         *uuid.UUID
	FromUserID     int64
	ToUserID       *int64
	Content        string
	IsAdminMessage bool
	ReadAt         *time.Time
	CreatedAt      time.Time
}

// Notification представляет внутрипортальное уведомление пользователя.
type Notification struct {
	ID        uuid.UUID
	UserID    int64
	Type      string
	Title     string
	Message   string
	Link      string
	Read      bool
	CreatedAt time.Time
}

// AdminNotification представляет служебное уведомление для сотрудников.
type AdminNotification struct {
	ID        uuid.UUID
	Type      string
	Title     string
	Message   string
	Link      string
	Read      bool
	CreatedAt time.Time
}
