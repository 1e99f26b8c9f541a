package gemini

import "strings"

// VoiceProfile describes a Gemini prebuilt voice.
type VoiceProfile struct {
	Name   string `json:"name"`
	Gender string `json:"gender"`
	Style  string `json:"style"`
}

// Voices lists the prebuilt voices the story has been auditioned with.
var Voices = []VoiceProfile{
	{Name: "Aoede", Gender: "Female", Style: "Breezy, clear"},
	{Name: "Kore", Gender: "Female", Style: "Firm, calm"},
	{Name: "Leda", Gender: "Female", Style: "Youthful, composed"},
	{Name: "Zephyr", Gender: "Female", Style: "Bright, energetic"},
	{Name: "Charon", Gender: "Male", Style: "Informative, smooth"},
	{Name: "Fenrir", Gender: "Male", Style: "Excitable, dramatic"},
	{Name: "Orus", Gender: "Male", Style: "Firm, neutral"},
	{Name: "Puck", Gender: "Male", Style: "Upbeat, playful"},
	{Name: "Umbriel", Gender: "Male", Style: "Easy-going, narrator-like"},
}

// LookupVoice finds a voice by case-insensitive name.
func LookupVoice(name string) (VoiceProfile, bool) {
	for _, v := range Voices {
		if strings.EqualFold(v.Name, name) {
			return v, true
		}
	}
	return VoiceProfile{}, false
}
