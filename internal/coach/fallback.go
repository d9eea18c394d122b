package coach

import "fmt"

const fallbackTopic = "this"

var fallbackReflections = map[Tone][]string{
	ToneStressed: {
		"There is a lot pressing on you around %s, and it makes sense that it feels heavy right now.",
		"It sounds like %s is taking up more energy than you have to spare at the moment.",
		"You're carrying real pressure around %s, and naming it is already a useful start.",
	},
	ToneUncertain: {
		"You're weighing %s without a clear answer yet, and that uncertainty is worth slowing down for.",
		"Part of you seems unsure where %s is heading, which usually means something important is at stake.",
		"You haven't settled on a direction for %s, and that's a reasonable place to be when the picture is still forming.",
	},
	ToneMotivated: {
		"You've got real momentum around %s, and it's worth channeling it while it's fresh.",
		"There's energy in how you talk about %s, which gives you a good base to build on.",
		"You sound ready to move on %s, so the question is where to point that drive first.",
	},
	ToneNeutral: {
		"You've brought up %s, and there's enough here to turn into something concrete.",
		"What you've shared about %s gives us a starting point to work from.",
		"You're thinking through %s, which is a good moment to get specific.",
	},
}

var fallbackActions = map[Lens][]string{
	LensClarify: {
		"Write two sentences: what you want from %s, and what would tell you it's working.",
		"Spend ten minutes listing what you already know about %s and circle the one thing still unclear.",
		"Describe %s out loud to yourself in one minute and note which part was hardest to explain.",
	},
	LensBlocker: {
		"Name the single biggest obstacle around %s and write one way to make it 10%% smaller this week.",
		"List what has stopped you on %s before and pick the one you can remove in under an hour.",
		"Find the smallest piece of %s that the obstacle doesn't touch and do that piece first.",
	},
	LensValues: {
		"Write down the two things you care about most that %s touches, and check whether your current plan honors both.",
		"Pick one value that %s connects to and note a choice this week that would reflect it.",
		"Ask yourself which option around %s you'd be proud of a year from now, and write the reason down.",
	},
	LensExperiment: {
		"Run a three-day experiment on %s with one change and one simple signal of success.",
		"Choose a low-risk version of %s you can try by Friday and decide now what you'll measure.",
		"Block thirty minutes this week to test one idea about %s, then jot down what you learned.",
	},
	LensDecision: {
		"Put the options around %s side by side and score each against your top three criteria.",
		"Write the one piece of information that would most change your mind on %s and go get it.",
		"Set a date to decide on %s and list what you need to know before then.",
	},
	LensAccountability: {
		"Pick one commitment on %s for the next seven days and tell someone who will ask about it.",
		"Review what you said you'd do about %s and mark what's done, stalled, or dropped.",
		"Set a check-in reminder for %s three days from now with one concrete thing to report.",
	},
}

var fallbackQuestions = map[Lens][]string{
	LensClarify: {
		"What would have to be true about %s for you to call it a win?",
		"Which part of %s do you most want clarity on?",
	},
	LensBlocker: {
		"What has gotten in the way of %s the last time you tried?",
		"If the main obstacle to %s disappeared tomorrow, what would you do first?",
	},
	LensValues: {
		"What does %s say about what matters to you right now?",
		"Which outcome around %s would sit best with the person you want to be?",
	},
	LensExperiment: {
		"What's the smallest test of %s that would still teach you something?",
		"How will you know the experiment on %s worked?",
	},
	LensDecision: {
		"Which option around %s are you leaning toward, and what's holding you back from it?",
		"What would you choose on %s if you knew you could change course later?",
	},
	LensAccountability: {
		"What will you have done about %s by the time we talk next?",
		"Who could you share your plan for %s with so it sticks?",
	},
}

// FallbackDraft composes a deterministic draft from canned variants keyed
// by tone and lens, anchored to the top keyword. Different salts give
// different variants for the same inputs. No external calls are made.
func FallbackDraft(p Profile, lens Lens, text string, salt int) Draft {
	topic := p.TopKeyword(fallbackTopic)
	seed := text + "|" + string(lens) + "|" + string(p.Tone)

	reflections := fallbackReflections[p.Tone]
	if len(reflections) == 0 {
		reflections = fallbackReflections[ToneNeutral]
	}
	actions := fallbackActions[lens]
	if len(actions) == 0 {
		actions = fallbackActions[LensClarify]
	}
	questions := fallbackQuestions[lens]
	if len(questions) == 0 {
		questions = fallbackQuestions[LensClarify]
	}

	// Consecutive salts never produce the same question or action.
	d := Draft{
		Reflection:       fmt.Sprintf(reflections[(pickIndex(seed+"|r", len(reflections))+salt)%len(reflections)], topic),
		ActionStep:       fmt.Sprintf(actions[(pickIndex(seed+"|a", len(actions))+salt)%len(actions)], topic),
		FollowUpQuestion: fmt.Sprintf(questions[(pickIndex(seed+"|q", len(questions))+salt)%len(questions)], topic),
	}
	return d.Bounded()
}
