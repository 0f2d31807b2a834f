package llm

import (
	"fmt"
	"strings"

	"github.com/talgya/dewberry/internal/oracle"
)

// Town and disease names used in every prompt.
const (
	townName  = "Dewberry Hollow"
	virusName = "Catasat"
)

// BuildPrompt renders the daily stay-home question for one agent. The answer
// is expected in the "Reasoning: ... Response: ..." form that
// oracle.ParseResponse reads.
func BuildPrompt(c oracle.Context) string {
	var b strings.Builder
	name := c.Name

	fmt.Fprintf(&b, "You are %s. You are %d years old.\n\n", name, c.Age)
	fmt.Fprintf(&b, "Your traits are given below:\n%s\n\n", c.Traits)

	fmt.Fprintf(&b, "Your basic bio is below:\n")
	fmt.Fprintf(&b, "%s lives in the town of %s. %s likes the town and has friends who also live there. ", name, townName, name)
	fmt.Fprintf(&b, "%s has a job and goes to the office for work everyday.\n\n", name)

	fmt.Fprintf(&b, "I will provide %s's relevant memories here:\n", name)
	fmt.Fprintf(&b, "%s\n", c.HealthNarrative)
	fmt.Fprintf(&b, "%s knows about the %s virus spreading across the country. ", name, virusName)
	b.WriteString("It is an infectious disease that spreads from human to human contact via an airborne virus. ")
	b.WriteString("The deadliness of the virus is unknown. Scientists are warning about a potential epidemic.\n")
	fmt.Fprintf(&b, "%s checks the newspaper and finds that %.1f%% of %s's population caught new infections of the %s virus yesterday.\n",
		name, c.FeedbackPercent, townName, virusName)
	fmt.Fprintf(&b, "%s goes to work to earn money to support %s's self.\n\n", name, name)

	fmt.Fprintf(&b, "Based on the provided memories, should %s stay at home for the entire day? Please provide your reasoning.\n\n", name)
	b.WriteString(`If the answer is "Yes," please state your reasoning as "Reasoning: [explanation]."` + "\n")
	b.WriteString(`If the answer is "No," please state your reasoning as "Reasoning: [explanation]."` + "\n\n")
	b.WriteString("The format should be as follow:\nReasoning:\nResponse:\n\n")
	fmt.Fprintf(&b, "Example response format:\n\nReasoning: %s is tired.\nResponse: Yes\n\n", name)
	b.WriteString("It is important to provide Response in a single word.\n")

	return b.String()
}
