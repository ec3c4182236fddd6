package config

// schemaSource closes the setup document. Unknown fields and wrongly typed
// values fail during unification instead of being dropped while decoding.
const schemaSource = `
#Value: number | string

#Step: {
	op:          string
	levels?:     [string]: #Value
	point?:      string
	component?:  string
	duration?:   #Value
	ramp?:       #Value
	hold?:       #Value
	max_level?:  number
	iterations?: #Value
	body?:       [...#Step]
}

#Setup: {
	logging?: {
		level?:  "trace" | "debug" | "info" | "warn" | "error"
		format?: "json" | "text"
		loki?: {
			enabled?: bool
			url?:     string
			labels?:  [string]: string
		}
	}
	telemetry?: enabled?: bool
	channel_sets?: [...{
		id: string
		channels: [...{
			name:       string
			amplified?: bool
		}]
		layers?: [...{
			source: [...string]
			target: [...string]
			matrix: [...[...number]]
		}]
		points?: [...{
			name:       string
			component?: string
			voltages:   [string]: number
			duration:   int & >0
			replace?:   bool
		}]
	}]
	sequences?: [...{
		id:                string
		set:               string
		track_integrated?: bool
		loop_policy?:      "strict" | "warn"
		inputs?: [...{
			name: string
			type: "int" | "fixed"
		}]
		steps: [...#Step]
	}]
}
`
