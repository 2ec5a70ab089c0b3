package notify

import (
	"fmt"
	"strings"

	"jobpulse/internal/domain/job"
	"jobpulse/internal/domain/notification"
)

func defaultTemplates() map[notification.Window]Template {
	daily := Template{
		Title: "🎯 New jobs that fit you",
		Sections: []Section{
			{Name: "greeting", Required: true, Render: greeting},
			{Name: "jobs", Required: true, Render: jobsList},
			{Name: "tips", Render: tips},
			{Name: "footer", Required: true, Render: footer},
		},
	}
	return map[notification.Window]Template{
		notification.WindowMorning: daily,
		notification.WindowEvening: daily,
		notification.WindowImmediate: {
			Title: "🚨 Fresh openings, apply soon",
			Sections: []Section{
				{Name: "headline", Required: true, Render: static("⚡ Heads up! These just came in.")},
				{Name: "jobs", Required: true, Render: jobsList},
				{Name: "urgency", Render: static("⏰ Early applicants get noticed first.")},
				{Name: "footer", Required: true, Render: footer},
			},
		},
		notification.WindowWeeklySummary: {
			Title: "📊 Your week in jobs",
			Sections: []Section{
				{Name: "headline", Required: true, Render: static("📈 Here is how your job search went this week.")},
				{Name: "stats", Render: weeklyStats},
				{Name: "jobs", Required: true, Render: jobsList},
				{Name: "recommendations", Render: recommendations},
				{Name: "footer", Required: true, Render: footer},
			},
		},
		notification.WindowCustom: {
			Title: "🔔 Your midday picks",
			Sections: []Section{
				{Name: "greeting", Required: true, Render: greeting},
				{Name: "jobs", Required: true, Render: jobsList},
				{Name: "footer", Required: true, Render: footer},
			},
		},
	}
}

func emptyTemplate() Template {
	return Template{
		Title: "🔍 No new matches yet",
		Sections: []Section{
			{Name: "greeting", Required: true, Render: greeting},
			{Name: "headline", Required: true, Render: static("No new jobs matched your preferences this time.")},
			{Name: "tips", Render: tips},
			{Name: "footer", Required: true, Render: footer},
		},
	}
}

func static(text string) func(RenderContext) (string, bool) {
	return func(RenderContext) (string, bool) { return text, true }
}

func greeting(rc RenderContext) (string, bool) {
	name := strings.TrimSpace(rc.Subscriber.DisplayName)
	if name == "" {
		name = "there"
	}
	h := rc.Now.UTC().Hour()
	switch {
	case h >= 5 && h < 12:
		return fmt.Sprintf("🌅 Good morning %s!", name), true
	case h >= 12 && h < 17:
		return fmt.Sprintf("☀️ Good afternoon %s!", name), true
	case h >= 17 && h < 21:
		return fmt.Sprintf("🌆 Good evening %s!", name), true
	default:
		return fmt.Sprintf("🌙 Hello %s!", name), true
	}
}

func jobsList(rc RenderContext) (string, bool) {
	if len(rc.Jobs) == 0 {
		return "", false
	}
	var b strings.Builder
	for i, s := range rc.Jobs {
		j := s.Job
		fmt.Fprintf(&b, "%d. %s\n", i+1, j.Title)
		fmt.Fprintf(&b, "🏢 %s\n", j.Company)
		if loc := j.LocationText(); loc != "" {
			fmt.Fprintf(&b, "📍 %s\n", loc)
		} else if j.Remote {
			b.WriteString("📍 Remote\n")
		}
		if j.Type != job.TypeUnspecified {
			fmt.Fprintf(&b, "💼 %s\n", j.Type)
		}
		if j.SalaryRange != nil && *j.SalaryRange != "" {
			fmt.Fprintf(&b, "💰 %s\n", *j.SalaryRange)
		}
		if len(s.Result.MatchedSkills) > 0 {
			fmt.Fprintf(&b, "✅ %s\n", strings.Join(s.Result.MatchedSkills, ", "))
		}
		fmt.Fprintf(&b, "🔗 %s\n\n", j.ApplyURL)
	}
	return b.String(), true
}

func tips(rc RenderContext) (string, bool) {
	if len(rc.Jobs) == 0 {
		return "💡 Tips:\n" +
			"• Try widening your location preference\n" +
			"• Add more skills to your profile\n" +
			"• Ask for the next batch any time", true
	}
	return "💡 Before you apply:\n" +
		"• Read the description carefully\n" +
		"• Keep your CV up to date\n" +
		"• Tailor a short cover letter", true
}

func weeklyStats(rc RenderContext) (string, bool) {
	if rc.Stats == nil {
		return "", false
	}
	return fmt.Sprintf("📊 Last 7 days:\n• Notifications: %d\n• Jobs sent: %d\n• Jobs opened: %d",
		rc.Stats.Notifications, rc.Stats.JobsSent, rc.Stats.JobsClicked), true
}

func recommendations(rc RenderContext) (string, bool) {
	recs := make([]string, 0, 3)
	if len(rc.Subscriber.Skills) < 3 {
		recs = append(recs, "• Add more skills to sharpen your matches")
	}
	if rc.Stats != nil && rc.Stats.JobsSent > 0 && rc.Stats.JobsClicked == 0 {
		recs = append(recs, "• None of last week's jobs caught your eye? Adjust your job types")
	}
	recs = append(recs, "• Keep your professional profiles current", "• Reach out to your network")
	if len(recs) > 3 {
		recs = recs[:3]
	}
	return "🎯 Recommendations:\n" + strings.Join(recs, "\n"), true
}

func footer(rc RenderContext) (string, bool) {
	switch rc.Window {
	case notification.WindowImmediate:
		return "⚡ Apply quickly!", true
	case notification.WindowWeeklySummary:
		return "📊 See you next week.", true
	case notification.WindowCustom:
		return "🔔 Manage alerts in your settings.", true
	default:
		return "📱 More jobs on demand | ⚙️ Settings", true
	}
}
