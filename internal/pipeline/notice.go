package pipeline

import (
	"fmt"

	"artiklo/api/internal/intake"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

const (
	NoticeFileRejected      = "FILE_REJECTED"
	NoticeAttachmentWarning = "ATTACHMENT_WARNING"
	NoticeNotArchived       = "NOT_ARCHIVED"
	NoticeDegradedResult    = "DEGRADED_RESULT"
)

// Notice is a user-visible message attached to an outcome.
type Notice struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

var failureMessages = map[Kind]string{
	KindEmptySubmission:      "Lütfen metin girin veya dosya seçin.",
	KindInvalidSubmission:    "Metin çok uzun veya geçersiz içerik barındırıyor.",
	KindRateLimited:          "Çok fazla deneme yaptınız. Lütfen daha sonra tekrar deneyin.",
	KindSubmissionInProgress: "Devam eden bir analiz var. Lütfen tamamlanmasını bekleyin.",
	KindTransportFailure:     "Analiz servisine ulaşılamadı.",
	KindNormalization:        "Analiz yanıtı tanınamadı.",
	KindPersistence:          "Analiz sonucu arşive kaydedilemedi.",
	KindCredit:               "Kredi düşülemedi.",
	KindInternal:             "Beklenmeyen bir hata oluştu.",
}

func failureNotice(err *Error) Notice {
	message, ok := failureMessages[err.Kind]
	if !ok {
		message = failureMessages[KindInternal]
	}
	severity := SeverityError
	if err.Kind == KindPersistence || err.Kind == KindCredit {
		severity = SeverityWarning
	}
	return Notice{Code: string(err.Kind), Severity: severity, Message: message}
}

func rejectionNotices(rejections []intake.Rejection) []Notice {
	notices := make([]Notice, 0, len(rejections))
	for _, rejection := range rejections {
		notices = append(notices, Notice{
			Code:     NoticeFileRejected,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%s: %s", rejection.Name, rejection.Reason),
		})
	}
	return notices
}
