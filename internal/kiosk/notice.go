package kiosk

import "github.com/lannapoly/tiewson-kiosk/internal/locale"

// Notice codes.
const (
	NoticeModelUnavailable = "model_unavailable"
	NoticeCameraDenied     = "camera_denied"
	NoticeContentStale     = "content_stale"
	NoticeAnalyzing        = "analyzing"
	NoticeLookAtCamera     = "look_at_camera"
)

var noticeText = map[string]locale.Text{
	NoticeModelUnavailable: {
		locale.Thai:    "ระบบวิเคราะห์ใบหน้าไม่พร้อมใช้งานในขณะนี้",
		locale.English: "Face analysis is unavailable right now.",
		locale.Chinese: "面部分析暂时不可用。",
		locale.Korean:  "지금은 얼굴 분석을 사용할 수 없습니다.",
	},
	NoticeCameraDenied: {
		locale.Thai:    "ไม่สามารถเข้าถึงกล้องได้ กรุณาอนุญาตการใช้กล้อง",
		locale.English: "Camera access was denied. Please allow the camera.",
		locale.Chinese: "无法访问摄像头，请允许使用摄像头。",
		locale.Korean:  "카메라에 접근할 수 없습니다. 카메라 권한을 허용해 주세요.",
	},
	NoticeContentStale: {
		locale.Thai:    "ไม่สามารถโหลดข่าวล่าสุดได้ กำลังแสดงข่าวที่บันทึกไว้",
		locale.English: "Could not load the latest news. Showing saved news.",
		locale.Chinese: "无法加载最新新闻，正在显示已保存的新闻。",
		locale.Korean:  "최신 뉴스를 불러올 수 없습니다. 저장된 뉴스를 표시합니다.",
	},
	NoticeAnalyzing: {
		locale.Thai:    "กำลังวิเคราะห์ใบหน้า...",
		locale.English: "Analyzing face...",
		locale.Chinese: "正在分析面部...",
		locale.Korean:  "얼굴 분석 중...",
	},
	NoticeLookAtCamera: {
		locale.Thai:    "กรุณามองที่กล้อง",
		locale.English: "Please look at camera",
		locale.Chinese: "请看摄像头",
		locale.Korean:  "카메라를 봐주세요",
	},
}

// Notice is a localized message shown by the page.
type Notice struct {
	Code       string `json:"code"`
	Text       string `json:"text"`
	Persistent bool   `json:"persistent"`
}

func newNotice(code string, l locale.Locale, persistent bool) Notice {
	return Notice{Code: code, Text: locale.ResolveFor(noticeText[code], l), Persistent: persistent}
}
