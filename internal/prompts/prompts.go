package prompts

import "fmt"

// OriginalImageLabel follows the original image in a diff-instruction request.
const OriginalImageLabel = "This is the Original Image."

const captionPrompt = `Analyze this image and provide a detailed visual description.

Rules:
- Write in a descriptive, neutral tone.
- Do NOT use command form (imperative).
- Focus on the main subjects, setting, lighting, and key details.
- Start directly with the description.`

const diffInstructionPrompt = `You are an expert image editor creating instructions for an AI.
Compare the Original Image and Edition Image %d.

Your task is to describe ONLY the modifications made to the Original to create the Edition.

STRICT RULES:
- Tone: Imperative (Command) ONLY. Use verbs like "Add", "Remove", "Replace", "Change", "Translate".
- FOCUS ON THE CHANGE: Describe ONLY what is different. Do not describe the original image or parts that remained the same.
- NO META TALK: Do NOT write "I added...", "The image shows...", "The difference is...", or "In this edition...".
- NO UPPERCASE: Do not write instructions in UPPERCASE.
- NO BULLETS: Provide the instructions as a concise, fluid paragraph of direct commands.
- DETAIL: Be specific about text content, fonts, colors, styles, and precise positions.

Example of Good Output:
"Change the background wall color from white to light peach. Add line art illustrations of coffee items scattered across the wall, with the text 'Coffee Time' in a script font in the center, and 'Espresso' in the top right."`

// Caption returns the prompt for the neutral description of the original image.
func Caption() string {
	return captionPrompt
}

// EditionImageLabel follows the edition image in a diff-instruction request.
// position is 1-based.
func EditionImageLabel(position int) string {
	return fmt.Sprintf("This is Edition Image %d, the edition to identify modifications in.", position)
}

// DiffInstructions returns the instruction prompt for the edition at the
// given 1-based position.
func DiffInstructions(position int) string {
	return fmt.Sprintf(diffInstructionPrompt, position)
}
