package detector

import "fmt"

// Leak categories assigned from the flow shape over an incident's span.
const (
	CategoryFixture    = "Fixture Leak"
	CategoryPipework   = "Underground/Pipework Leak"
	CategoryAppliance  = "Appliance/Cycling Fault"
	CategoryLargeBurst = "Large Burst/Event"
)

// CategorizeLeak classifies an incident by its mean and sample standard
// deviation of hourly flow, scaled against the site baseline.
func CategorizeLeak(avgFlow, stdDev, baseline float64) (string, string) {
	fixture := 2 * baseline
	pipe := 5 * baseline
	burst := 10 * baseline

	switch {
	case avgFlow <= fixture && stdDev < 0.2*fixture:
		return CategoryFixture, fmt.Sprintf("Low, steady flow <%.0f L/h. Likely toilets/taps.", fixture)
	case avgFlow <= pipe && stdDev < 0.3*pipe:
		return CategoryPipework, fmt.Sprintf("Persistent steady flow <%.0f L/h.", pipe)
	case avgFlow <= burst && stdDev >= 0.3*pipe:
		return CategoryAppliance, fmt.Sprintf("Erratic pattern <%.0f L/h. Possible appliances.", burst)
	default:
		return CategoryLargeBurst, fmt.Sprintf("Very high flow >%.0f L/h. Likely major pipe break.", burst)
	}
}
