// Package travel holds the lookup-table tools the pattern programs give to
// their agents. The data is fixed so runs are reproducible.
package travel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/richinex/agentpatterns/tools"
)

// FlightOption is one search_flights result.
type FlightOption struct {
	Airline string  `json:"airline"`
	Price   float64 `json:"price"`
}

// FlightArgs are the search_flights arguments.
type FlightArgs struct {
	Destination string `json:"destination" jsonschema:"Destination city"`
}

// AttractionArgs are the search_attractions arguments.
type AttractionArgs struct {
	City string `json:"city" jsonschema:"City to search"`
	Type string `json:"type" jsonschema:"Kind of attraction: museums, restaurants or historical sites"`
}

// CityArgs are the arguments of the per-city lookups.
type CityArgs struct {
	City string `json:"city" jsonschema:"City name"`
}

var attractions = map[string]map[string][]string{
	"paris": {
		"museums":          {"Louvre Museum", "Musée d'Orsay", "Centre Pompidou"},
		"restaurants":      {"Le Jules Verne", "L'Ambroisie", "Le Comptoir du Relais"},
		"historical sites": {"Eiffel Tower", "Notre-Dame Cathedral", "Arc de Triomphe"},
	},
}

var weather = map[string]string{
	"london": "rainy, 12°C",
	"paris":  "sunny, 18°C",
	"tokyo":  "cloudy, 16°C",
}

var activities = map[string]string{
	"london": "Visit British Museum, See Big Ben, Ride the London Eye",
	"paris":  "Visit Eiffel Tower, Explore Louvre Museum, Walk along Seine River",
	"tokyo":  "Visit Tokyo Skytree, Explore Senso-ji Temple, Shop in Shibuya",
}

// SearchFlights returns the available flights. The destination does not
// change the result.
func SearchFlights(_ string) []FlightOption {
	return []FlightOption{
		{Airline: "SkyHighAir", Price: 450.00},
		{Airline: "GlobalWings", Price: 375.50},
	}
}

// SearchAttractions lists attractions of a type in a city, comma separated.
func SearchAttractions(city, kind string) string {
	city = strings.ToLower(city)
	byType, ok := attractions[city]
	if !ok {
		return fmt.Sprintf("No information available for %s", city)
	}
	list, ok := byType[strings.ToLower(kind)]
	if !ok {
		return fmt.Sprintf("No %s information available for %s", kind, city)
	}
	return strings.Join(list, ", ")
}

// SearchWeather returns the current weather of a city.
func SearchWeather(city string) string {
	if w, ok := weather[strings.ToLower(city)]; ok {
		return w
	}
	return "Weather data not available"
}

// FindActivities returns popular activities in a city.
func FindActivities(city string) string {
	if a, ok := activities[strings.ToLower(city)]; ok {
		return a
	}
	return "Activity data not available"
}

// FlightsTool exposes SearchFlights as search_flights.
func FlightsTool() tools.Tool {
	return tools.MustFunc("search_flights", "Search for flights to the specified destination.",
		func(_ context.Context, args FlightArgs) (string, error) {
			raw, err := json.Marshal(SearchFlights(args.Destination))
			if err != nil {
				return "", err
			}
			return string(raw), nil
		})
}

// AttractionsTool exposes SearchAttractions as search_attractions.
func AttractionsTool() tools.Tool {
	return tools.MustFunc("search_attractions", "Search for attractions in a city based on type.",
		func(_ context.Context, args AttractionArgs) (string, error) {
			return SearchAttractions(args.City, args.Type), nil
		})
}

// WeatherTool exposes SearchWeather as search_weather.
func WeatherTool() tools.Tool {
	return tools.MustFunc("search_weather", "Get weather information for a city.",
		func(_ context.Context, args CityArgs) (string, error) {
			return SearchWeather(args.City), nil
		})
}

// ActivitiesTool exposes FindActivities as find_activities.
func ActivitiesTool() tools.Tool {
	return tools.MustFunc("find_activities", "Find popular activities for a city.",
		func(_ context.Context, args CityArgs) (string, error) {
			return FindActivities(args.City), nil
		})
}

// All returns every travel tool.
func All() []tools.Tool {
	return []tools.Tool{FlightsTool(), AttractionsTool(), WeatherTool(), ActivitiesTool()}
}
