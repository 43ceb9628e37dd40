package entity

import (
	"fmt"
	"strings"
)

// Mode selects the assistant persona for a request.
type Mode string

const (
	ModeProductInfo    Mode = "product_info"
	ModeMobilityHazard Mode = "mobility_hazard"
)

var systemPrompts = map[Mode]string{
	ModeProductInfo: "당신은 시각장애인을 위한 편의점 상품 안내 도우미입니다. " +
		"핵심 정보만 짧고 간결하게 제공하세요.",
	ModeMobilityHazard: "당신은 시각장애인의 안전한 보행을 돕는 도우미입니다. " +
		"사진 속 계단, 차량, 자전거, 공사 구간, 웅덩이 같은 위험 요소와 장애물을 " +
		"가까운 것부터 방향과 대략적인 거리와 함께 짧고 명확하게 알려주세요. " +
		"위험 요소가 없으면 없다고 말하세요.",
}

// Modes lists every supported mode in a stable order.
func Modes() []Mode {
	return []Mode{ModeProductInfo, ModeMobilityHazard}
}

// ParseMode resolves s to a Mode. An empty string yields fallback.
func ParseMode(s string, fallback Mode) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return fallback, nil
	}
	m := Mode(s)
	if _, ok := systemPrompts[m]; !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownMode, s)
	}
	return m, nil
}

// SystemPrompt returns the fixed instruction for the mode.
func (m Mode) SystemPrompt() string {
	return systemPrompts[m]
}

func (m Mode) Valid() bool {
	_, ok := systemPrompts[m]
	return ok
}
