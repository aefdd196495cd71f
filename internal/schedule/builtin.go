package schedule

// builtinCurves are served when no file with the same name exists.
var builtinCurves = map[string]CurveFile{
	"Bisquit": {
		Name: "Bisquit",
		Points: []CurvePoint{
			{"00:00", 30, "Initial Heating"},
			{"03:00", 200, "Preheating"},
			{"04:00", 400, "Water Smoking"},
			{"05:00", 500, "Quartz Inversion"},
			{"06:00", 600, "Bisquit Firing"},
			{"07:00", 850, "Soaking"},
			{"07:15", 850, "Soaking"},
			{"08:00", 600, "Cooling"},
			{"09:00", 500, "Quartz Inversion"},
			{"10:00", 200, "Final Cooling"},
			{"11:00", 30, "Complete"},
		},
	},
	"Bisquit_express": {
		Name: "Bisquit_express",
		Points: []CurvePoint{
			{"00:00", 30, "Initial Heating"},
			{"02:00", 200, "Preheating"},
			{"03:00", 400, "Water Smoking"},
			{"04:00", 500, "Quartz Inversion"},
			{"05:00", 600, "Bisquit Firing"},
			{"06:00", 850, "Soaking"},
			{"06:15", 850, "Soaking"},
			{"07:00", 600, "Cooling"},
			{"08:00", 500, "Quartz Inversion"},
			{"09:00", 200, "Final Cooling"},
			{"10:00", 30, "Complete"},
		},
	},
	"Glazing": {
		Name: "Glazing",
		Points: []CurvePoint{
			{"00:00", 30, "Initial Heating"},
			{"03:00", 200, "Preheating"},
			{"04:00", 400, "Water Smoking"},
			{"05:00", 500, "Quartz Inversion"},
			{"06:00", 600, "Glaze Firing"},
			{"07:00", 850, "Soaking"},
			{"07:15", 850, "Soaking"},
			{"08:00", 600, "Cooling"},
			{"09:00", 500, "Quartz Inversion"},
			{"10:00", 200, "Final Cooling"},
			{"11:00", 30, "Complete"},
		},
	},
}
